package redis

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "firequeue"

type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return keys{prefix: prefix}
}

// job returns the hash holding one job: {prefix}:job:{id}
func (k keys) job(id string) string { return k.prefix + ":job:" + id }

// index is the sorted set of every job id scored by created_at in milliseconds.
func (k keys) index() string { return k.prefix + ":jobs" }
