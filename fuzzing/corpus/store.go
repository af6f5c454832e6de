package corpus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/utils"
	"github.com/pkg/errors"
)

// failuresDirectory describes the directory within the corpus directory holding failure entries.
const failuresDirectory = "failures"

// Store persists the minimal failing call sequence of each test identity, one JSON file per identity at
// <directory>/failures/<contract>/<invariant>.json. Files are replaced atomically, so concurrent campaigns never
// observe a partially written entry.
type Store struct {
	// directory describes the corpus directory.
	directory string

	// lock serializes read-modify-write operations of the store.
	lock sync.Mutex

	// logger describes the logger used by the store.
	logger *logging.Logger
}

// NewStore creates a Store rooted at the provided directory, creating it if it does not exist.
// Returns the store, or an error if the directory could not be created.
func NewStore(directory string) (*Store, error) {
	if directory == "" {
		return nil, errors.New("a corpus directory must be provided")
	}
	if err := utils.MakeDirectory(filepath.Join(directory, failuresDirectory)); err != nil {
		return nil, errors.Wrap(err, "could not create corpus directory")
	}
	return &Store{
		directory: directory,
		logger:    logging.GlobalLogger.NewSubLogger("module", "corpus"),
	}, nil
}

// Directory returns the corpus directory.
func (s *Store) Directory() string {
	return s.directory
}

// entryPath returns the path of the entry for a test identity.
func (s *Store) entryPath(testID TestID) string {
	contract, invariant := testID.pathComponents()
	return filepath.Join(s.directory, failuresDirectory, contract, invariant+".json")
}

// readEntry reads and validates the entry at the provided path.
func readEntry(path string) (*CorpusEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry CorpusEntry
	if err = json.Unmarshal(b, &entry); err != nil {
		return nil, err
	}
	if err = entry.isCompatible(); err != nil {
		return nil, err
	}
	return &entry, nil
}

// load reads the entry for a test identity. It must be called with the lock held.
func (s *Store) load(testID TestID) (*CorpusEntry, bool) {
	path := s.entryPath(testID)
	entry, err := readEntry(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("Ignoring unreadable corpus entry ", path, ": ", err.Error())
		}
		return nil, false
	}
	if entry.TestID != testID {
		s.logger.Debug("Ignoring corpus entry ", path, " recorded for ", entry.TestID.String())
		return nil, false
	}
	return entry, true
}

// Load returns the entry for a test identity. Missing, corrupt and incompatible entries are reported as absent.
func (s *Store) Load(testID TestID) (*CorpusEntry, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.load(testID)
}

// Save persists the entry for a test identity. An existing entry is only replaced if the new sequence is not longer
// than it, or if it was recorded against a different target universe fingerprint.
// Returns a boolean indicating whether the entry was written, or an error if writing failed.
func (s *Store) Save(testID TestID, entry *CorpusEntry) (bool, error) {
	if entry == nil || entry.Sequence == nil {
		return false, errors.New("cannot save a corpus entry without a call sequence")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if existing, ok := s.load(testID); ok {
		if existing.Fingerprint == entry.Fingerprint && entry.Sequence.Len() > existing.Sequence.Len() {
			return false, nil
		}
	}

	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return false, errors.WithStack(err)
	}
	if err = utils.WriteFileAtomic(s.entryPath(testID), b); err != nil {
		return false, errors.Wrapf(err, "could not write corpus entry for %v", testID)
	}
	s.logger.Debug("Saved corpus entry for ", testID.String(), " with ", entry.Sequence.Len(), " calls")
	return true, nil
}

// Delete removes the entry for a test identity, if one exists.
func (s *Store) Delete(testID TestID) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	err := os.Remove(s.entryPath(testID))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// Entries returns every readable entry in the store, sorted by test identity. Unreadable entries are skipped.
func (s *Store) Entries() ([]*CorpusEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.directory, failuresDirectory, "*", "*.json"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	entries := make([]*CorpusEntry, 0, len(paths))
	for _, path := range paths {
		entry, err := readEntry(path)
		if err != nil {
			s.logger.Debug("Ignoring unreadable corpus entry ", path, ": ", err.Error())
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TestID.String() < entries[j].TestID.String()
	})
	return entries, nil
}

// Clean removes every failure entry from the store.
func (s *Store) Clean() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return utils.DeleteDirectory(filepath.Join(s.directory, failuresDirectory))
}
