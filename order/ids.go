package order

import (
	"fmt"
	"strings"
)

// Separator joins ids in a persisted order string.
const Separator = ","

// EncodeIDs joins ids into the persisted order string. Ids must be non-empty
// and must not contain the separator, otherwise the string would not decode
// back to the same list.
func EncodeIDs(ids []string) (string, error) {
	for i, id := range ids {
		if id == "" {
			return "", fmt.Errorf("order: empty id at position %d", i)
		}
		if strings.Contains(id, Separator) {
			return "", fmt.Errorf("order: id %q contains %q", id, Separator)
		}
	}
	return strings.Join(ids, Separator), nil
}

// DecodeIDs splits a persisted order string. The empty string is the empty list.
func DecodeIDs(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, Separator)
}

// IndexOf returns the position of id in ids or -1.
func IndexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Remove returns ids without id, preserving order.
func Remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// InsertAt returns ids with id placed at index (clamped to the list bounds).
func InsertAt(ids []string, id string, index int) []string {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}
