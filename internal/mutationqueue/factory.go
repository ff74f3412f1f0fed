package mutationqueue

import (
	"fmt"
	"net/url"
	"strings"
)

// queueParam selects a queue key inside shared backends. It is stripped
// before the DSN reaches the driver.
const queueParam = "queue"

func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return OpenSQLiteStore(path)
	case "postgres", "postgresql":
		driverDSN, queueKey := splitQueueParam(parsed)
		return NewPostgresStore(driverDSN, queueKey)
	case "redis", "rediss":
		driverDSN, queueKey := splitQueueParam(parsed)
		return NewRedisStore(driverDSN, queueKey)
	case "indexeddb", "mysql":
		return nil, fmt.Errorf("%w: store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	host := strings.TrimSpace(parsed.Host)
	path := strings.TrimSpace(parsed.Path)
	switch {
	case host != "" && path != "":
		// file://data/queue.json is a relative path, not a host
		path = host + path
	case path == "":
		path = strings.TrimSpace(parsed.Opaque)
		if path == "" {
			path = host
		}
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func splitQueueParam(parsed *url.URL) (string, string) {
	clone := *parsed
	q := clone.Query()
	queueKey := strings.TrimSpace(q.Get(queueParam))
	q.Del(queueParam)
	clone.RawQuery = q.Encode()
	return clone.String(), queueKey
}
