package repository

import (
	"fmt"
	"time"
)

// casRetries bounds optimistic-lock retries when a watched key changes
// between the read and the MULTI/EXEC.
const casRetries = 5

// transitionTTL bounds how long exactly-once transition markers live.
// Chapter IDs are unique per run, so markers are only consulted while their
// chapter can still be retried; a month is generous.
const transitionTTL = 30 * 24 * time.Hour

// Redis key layout. Everything is namespaced by story instance so multiple
// independent story threads share one logical store.
func keyChapter(instanceID, chapterID string) string {
	return fmt.Sprintf("story:%s:chapter:%s", instanceID, chapterID)
}

func keyContext(instanceID string) string {
	return fmt.Sprintf("story:%s:context", instanceID)
}

func keyProgression(instanceID string) string {
	return fmt.Sprintf("story:%s:progression", instanceID)
}

func keySession(instanceID, chapterID string) string {
	return fmt.Sprintf("story:%s:session:%s", instanceID, chapterID)
}

// keyVotes is a hash of userID -> serialized Vote.
func keyVotes(instanceID, chapterID string) string {
	return fmt.Sprintf("story:%s:votes:%s", instanceID, chapterID)
}

// keyCounts is a hash of choiceID -> count, maintained by HINCRBY.
func keyCounts(instanceID, chapterID string) string {
	return fmt.Sprintf("story:%s:counts:%s", instanceID, chapterID)
}

func keyHistory(instanceID string) string {
	return fmt.Sprintf("story:%s:history", instanceID)
}

// keyHistorySeen is a set of "chapterID:choiceID" markers deduplicating
// history appends across transition retries.
func keyHistorySeen(instanceID string) string {
	return fmt.Sprintf("story:%s:history:seen", instanceID)
}

func keyTransition(instanceID, chapterID, choiceID string) string {
	return fmt.Sprintf("story:%s:transition:%s:%s", instanceID, chapterID, choiceID)
}

// keyCompletedPaths is a set of ending IDs the community has reached across
// all runs of an instance. Survives resets.
func keyCompletedPaths(instanceID string) string {
	return fmt.Sprintf("story:%s:completed", instanceID)
}

func keyInstances() string {
	return "story:instances"
}
