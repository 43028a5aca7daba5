package fs

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WaitForFile waits for a file to exist and be non-empty with exponential backoff
// Returns error if file doesn't appear within maxWait duration
func WaitForFile(ctx context.Context, filePath string, maxWait time.Duration) error {
	start := time.Now()
	delay := waitBaseDelay

	for {
		if info, err := os.Stat(filePath); err == nil && info.Size() > 0 {
			return nil
		}

		if time.Since(start) >= maxWait {
			return fmt.Errorf("timeout waiting for file %s after %v", filePath, maxWait)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = nextWaitDelay(delay)
	}
}

const (
	waitBaseDelay = 50 * time.Millisecond
	waitMaxDelay  = 500 * time.Millisecond
)

// nextWaitDelay doubles d up to waitMaxDelay
func nextWaitDelay(d time.Duration) time.Duration {
	if d >= waitMaxDelay/2 {
		return waitMaxDelay
	}
	return d * 2
}

// Exists reports whether path names an existing non-empty regular file
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
