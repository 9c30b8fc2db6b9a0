package utils

import "strconv"

// BuildTasksListCacheKey keys cached list pages per owner. The owner id is
// part of the key so one user's cached page can never be served to another.
func BuildTasksListCacheKey(ownerID string, limit, offset int, completed *bool) string {
	c := ""
	if completed != nil {
		c = strconv.FormatBool(*completed)
	}

	return "tasks:list:v1:owner=" + ownerID +
		":limit=" + strconv.Itoa(limit) +
		":offset=" + strconv.Itoa(offset) +
		":completed=" + c
}
