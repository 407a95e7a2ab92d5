package redis

// keyspace builds every Redis key the store touches. All keys share the
// prefix to avoid collisions with other tenants of the database.
type keyspace string

const defaultPrefix keyspace = "approvals:"

// ── Workflow keys ──

// run returns the Hash key for a run: {prefix}run:{id}
func (k keyspace) run(id string) string { return string(k) + "run:" + id }

// runIDs is the Set tracking all run IDs for enumeration.
func (k keyspace) runIDs() string { return string(k) + "run_ids" }

// checkpoint returns the Hash key for a checkpoint: {prefix}checkpoint:{runID}:{step}
func (k keyspace) checkpoint(runID, step string) string {
	return string(k) + "checkpoint:" + runID + ":" + step
}

// checkpointIndex returns the Sorted Set ordering a run's checkpoints by
// write sequence.
func (k keyspace) checkpointIndex(runID string) string {
	return string(k) + "checkpoint_idx:" + runID
}

// checkpointSeq is the counter that stamps checkpoint writes.
func (k keyspace) checkpointSeq() string { return string(k) + "checkpoint_seq" }

// ── Event keys ──

// event returns the Hash key for an event: {prefix}event:{id}
func (k keyspace) event(id string) string { return string(k) + "event:" + id }

// pending returns the List of unacked event IDs for (run, name).
func (k keyspace) pending(runID, name string) string {
	return string(k) + "pending:" + runID + ":" + name
}

// ── Correlation keys ──

// correlation returns the String key holding a JSON correlation record.
func (k keyspace) correlation(namespace, key string) string {
	return string(k) + "corr:" + namespace + ":" + key
}

// correlationByInstance maps an instance ID back to its correlation key.
func (k keyspace) correlationByInstance(namespace, instanceID string) string {
	return string(k) + "corr_inst:" + namespace + ":" + instanceID
}

// correlationsByEntity is the Sorted Set of keys written for one entity,
// scored by creation time in milliseconds.
func (k keyspace) correlationsByEntity(namespace, entityID string) string {
	return string(k) + "corr_entity:" + namespace + ":" + entityID
}
