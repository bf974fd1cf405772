package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StringSet is a set of tags stored as a sorted JSON array.
type StringSet []string

// NewStringSet builds a set, dropping blanks and case-insensitive duplicates.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]bool, len(values))
	set := make(StringSet, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		set = append(set, v)
	}
	sort.Strings(set)
	return set
}

// Contains reports whether v is in the set, ignoring case.
func (s StringSet) Contains(v string) bool {
	for _, item := range s {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSet", src)
	}
	if len(raw) == 0 {
		*s = StringSet{}
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to unmarshal string set: %w", err)
	}
	*s = NewStringSet(values...)
	return nil
}
