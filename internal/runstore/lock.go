package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	lockDirName   = ".collect.lock"
	lockOwnerFile = "owner.json"

	ownerWriteGrace = 30 * time.Second
)

// ErrLocked is returned when another collector process owns the directory.
var ErrLocked = errors.New("directory is locked")

type DirLock struct {
	lockDir string
	// Stale is set when the lock was taken over from a dead owner.
	Stale string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireDirLock takes the collector lock for dir. A lock left behind by a
// process that no longer runs on this host is taken over, as is a lock
// directory whose owner was never written and that is older than
// ownerWriteGrace. DirLock.Stale describes a lock that was taken over.
func AcquireDirLock(dir, runID string) (DirLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return DirLock{}, errors.New("lock directory is required")
	}
	if err := Mkdir(target); err != nil {
		return DirLock{}, err
	}

	lockDir := filepath.Join(target, lockDirName)
	stale := ""
	err := os.Mkdir(lockDir, 0o755)
	if err != nil && os.IsExist(err) {
		reason, lockErr := inspectLock(target, lockDir)
		if lockErr != nil {
			return DirLock{}, lockErr
		}
		if err := discardLock(lockDir); err != nil {
			return DirLock{}, errors.Wrapf(err, "remove stale lock %s", lockDir)
		}
		stale = reason
		err = os.Mkdir(lockDir, 0o755)
		if err != nil && os.IsExist(err) {
			// Another process won the takeover.
			return DirLock{}, errors.Wrapf(ErrLocked, "%s", target)
		}
	}
	if err != nil {
		return DirLock{}, errors.Wrapf(err, "acquire lock for %s", target)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, lockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return DirLock{}, errors.Wrapf(err, "write lock owner for %s", target)
	}

	return DirLock{lockDir: lockDir, Stale: stale}, nil
}

// inspectLock returns a non-empty reason when the existing lock is stale, or
// an ErrLocked error when its owner may still be running.
func inspectLock(target, lockDir string) (string, error) {
	ownerPath := filepath.Join(lockDir, lockOwnerFile)
	var owner lockOwner
	readErr := ReadJSON(ownerPath, &owner)
	if readErr != nil || owner.PID <= 0 {
		info, err := os.Stat(lockDir)
		if err != nil {
			return "", errors.Wrapf(ErrLocked, "%s", target)
		}
		if age := time.Since(info.ModTime()); age < ownerWriteGrace {
			return "", errors.Wrapf(ErrLocked, "%s (owner not yet recorded)", target)
		}
		return "lock has no owner record", nil
	}

	host := hostnameOrUnknown()
	if owner.Hostname == host && host != "unknown" && !processAlive(owner.PID) {
		return fmt.Sprintf("pid %d (run_id=%s) is no longer running", owner.PID, owner.RunID), nil
	}
	return "", errors.WithHintf(
		errors.Wrapf(ErrLocked, "%s (pid=%d run_id=%s created_at=%s host=%s)",
			target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname),
		"if no collector is running, remove %s", lockDir,
	)
}

// discardLock renames the stale lock before removing it, so only one of two
// racing processes gets to take it over.
func discardLock(lockDir string) error {
	doomed := fmt.Sprintf("%s.stale-%d-%d", lockDir, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(lockDir, doomed); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.RemoveAll(doomed)
}

func (l DirLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "release lock %s", l.lockDir)
	}
	return nil
}

// processAlive reports whether pid still runs. An error from the probe counts
// as alive.
func processAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err != nil || alive
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
