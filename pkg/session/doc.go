/*
Package session hosts many flow instances at once.

A Manager resolves flows by name, rebuilds the controller of an instance from its stored
snapshot for every operation, and persists the result. Access to one instance is
serialized by a reference-counted local mutex, optionally extended across replicas by a
ports.DistributedLocker. Outbound calls are split in two locked phases so the lock is
never held while the backend answers; the persisted busy flag guards the gap.
*/
package session
