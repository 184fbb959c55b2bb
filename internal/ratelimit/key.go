package ratelimit

import "strconv"

const keySep = ":"

// buildKey derives the counter key for one (operation, identifier,
// window) tuple: "{prefix}:{identifier}:{windowID}". The prefix carries
// no separator (enforced by Config.Validate) and the window id is always
// the final segment, so distinct tuples never collide and the same pair
// in two windows always differs.
func buildKey(prefix, identifier string, windowID int64) string {
	return prefix + keySep + identifier + keySep + strconv.FormatInt(windowID, 10)
}
