package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const threadDocumentSuffix = ".json"

// BuildThreadKey returns the object key of a thread's transcript document.
// The thread id is path-escaped so arbitrary caller ids cannot leave the
// threads directory.
func BuildThreadKey(prefix, threadID string) (string, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", fmt.Errorf("thread id is required")
	}
	return path.Join(ThreadsDirectory(prefix), url.PathEscape(threadID)+threadDocumentSuffix), nil
}

// ThreadsDirectory is the listing prefix holding every thread document.
func ThreadsDirectory(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "threads"
	}
	return path.Join(prefix, "threads")
}

// ThreadIDFromKey reverses BuildThreadKey. ok is false for keys that are not
// thread documents.
func ThreadIDFromKey(prefix, key string) (string, bool) {
	dir := ThreadsDirectory(prefix) + "/"
	if !strings.HasPrefix(key, dir) || !strings.HasSuffix(key, threadDocumentSuffix) {
		return "", false
	}
	escaped := strings.TrimSuffix(strings.TrimPrefix(key, dir), threadDocumentSuffix)
	if escaped == "" || strings.Contains(escaped, "/") {
		return "", false
	}
	threadID, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return threadID, true
}
