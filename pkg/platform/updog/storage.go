package updog

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const imageName = "update.img"

var errNotOpen = errors.New("update image is not open")

// Storage stages the update image in a file for updog to install. Running
// image validation is delegated to signpost.
type Storage struct {
	log       logging.Logger
	dir       string
	osRelease string
	signpost  string

	mu sync.Mutex
	f  *os.File

	run func(name string, args ...string) error
}

var _ platform.Storage = (*Storage)(nil)

func NewStorage(log logging.Logger, dir, osRelease, signpost string) *Storage {
	s := &Storage{
		log:       log,
		dir:       dir,
		osRelease: osRelease,
		signpost:  signpost,
	}
	s.run = s.runOk
	return s
}

// Path is the staged image file.
func (s *Storage) Path() string {
	return filepath.Join(s.dir, imageName)
}

// Init creates the staging directory and clears any stale image.
func (s *Storage) Init() error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return errors.Wrap(err, "unable to create staging directory")
	}
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to remove stale image")
	}
	return nil
}

func (s *Storage) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return errors.New("update image already open")
	}
	f, err := os.OpenFile(s.Path(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return errors.Wrap(err, "unable to open update image")
	}
	s.f = f
	return nil
}

func (s *Storage) Read(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errNotOpen
	}
	return s.f.ReadAt(p, off)
}

func (s *Storage) Write(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errNotOpen
	}
	return s.f.WriteAt(p, off)
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errNotOpen
	}
	f := s.f
	s.f = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "unable to sync update image")
	}
	return errors.Wrap(f.Close(), "unable to close update image")
}

// Verify checks that a complete image has been staged.
func (s *Storage) Verify() error {
	s.mu.Lock()
	open := s.f != nil
	s.mu.Unlock()
	if open {
		return errors.New("update image still open")
	}
	fi, err := os.Stat(s.Path())
	if err != nil {
		return errors.Wrap(err, "unable to stat update image")
	}
	if fi.Size() == 0 {
		return errors.New("update image is empty")
	}
	return nil
}

// Validate marks the running image as booted successfully so the bootloader
// keeps it.
func (s *Storage) Validate(appID int) error {
	s.log.WithField("app-id", appID).Debug("marking running image successful")
	return errors.Wrap(s.run(s.signpost, CommandMarkBoot), "unable to mark successful boot")
}

// AppInfo reads the running image's version from os-release.
func (s *Storage) AppInfo() (platform.AppInfo, error) {
	raw, err := os.ReadFile(s.osRelease)
	if err != nil {
		return platform.AppInfo{}, errors.Wrap(err, "unable to read os-release")
	}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || key != "VERSION_ID" {
			continue
		}
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		}
		return platform.AppInfo{Version: value}, nil
	}
	return platform.AppInfo{}, errors.Errorf("no VERSION_ID in %s", s.osRelease)
}

func (s *Storage) runOk(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if logging.Debuggable {
		s.log.WithField("cmd", cmd.String()).Debug("executing")
	}
	if err := cmd.Run(); err != nil {
		s.log.WithFields(logrus.Fields{
			"cmd":    cmd.String(),
			"output": buf.String(),
		}).WithError(err).Error("command failed")
		return err
	}
	if logging.Debuggable {
		s.log.WithFields(logrus.Fields{
			"cmd":    cmd.String(),
			"output": buf.String(),
		}).Debug("command completed successfully")
	}
	return nil
}
