package cache

import "errors"

// ErrFetchFailed is returned to callers that waited on an in-flight fetch
// which did not leave a usable result behind.
var ErrFetchFailed = errors.New("task fetch failed")
