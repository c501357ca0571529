package cache

// LoadList reads a flat JSON array cache. legacyKeys name older filenames
// the same data may still live under; they are tried in order after the
// primary key so caches written by earlier releases keep working.
func LoadList[T any](s *Store, key string, legacyKeys ...string) ([]T, bool) {
	for _, k := range append([]string{key}, legacyKeys...) {
		var items []T
		if s.readJSON(k, &items) && items != nil {
			return items, true
		}
	}
	return nil, false
}

// SaveList replaces a flat JSON array cache under the primary key.
func SaveList[T any](s *Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	return s.writeJSON(key, items)
}
