package corpus

import (
	"encoding/json"
	"math/big"
	"path/filepath"
	"time"

	"github.com/crytic/invfuzz/fuzzing/valuegeneration"
	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// dictionaryFile describes the name of the database holding persisted dictionaries, within the corpus directory.
const dictionaryFile = "dictionary.db"

// dictionaryKey describes the key the dictionary is stored under within a test identity's bucket.
var dictionaryKey = []byte("values")

// storedDictionary is the serialized form of a valuegeneration.ValueSet. Integers are stored as decimal strings, as
// they may be negative.
type storedDictionary struct {
	Addresses []common.Address `json:"addresses"`
	Integers  []string         `json:"integers"`
	Strings   []string         `json:"strings"`
	Bytes     []hexutil.Bytes  `json:"bytes"`
}

// DictionaryStore persists the dictionaries of completed campaigns, one bucket per test identity, so the next campaign
// for the same test starts with the values the previous one discovered.
type DictionaryStore struct {
	db *bbolt.DB
}

// OpenDictionaryStore opens (or creates) the dictionary database in the provided corpus directory.
// Returns the store, or an error if the database could not be opened.
func OpenDictionaryStore(directory string) (*DictionaryStore, error) {
	if err := utils.MakeDirectory(directory); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(directory, dictionaryFile), 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "could not open dictionary database")
	}
	return &DictionaryStore{db: db}, nil
}

// Close closes the underlying database.
func (d *DictionaryStore) Close() error {
	return errors.WithStack(d.db.Close())
}

// Save replaces the persisted dictionary of a test identity.
func (d *DictionaryStore) Save(testID TestID, dictionary *valuegeneration.ValueSet) error {
	stored := storedDictionary{
		Addresses: dictionary.Addresses(),
		Integers:  make([]string, 0),
		Strings:   dictionary.Strings(),
		Bytes:     make([]hexutil.Bytes, 0),
	}
	for _, integer := range dictionary.Integers() {
		stored.Integers = append(stored.Integers, integer.String())
	}
	for _, b := range dictionary.Bytes() {
		stored.Bytes = append(stored.Bytes, b)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return errors.WithStack(err)
	}

	err = d.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(testID.String()))
		if err != nil {
			return err
		}
		return bucket.Put(dictionaryKey, data)
	})
	return errors.Wrapf(err, "could not save dictionary for %v", testID)
}

// Load returns the persisted dictionary of a test identity, or false if none was persisted or it could not be read.
func (d *DictionaryStore) Load(testID TestID) (*valuegeneration.ValueSet, bool) {
	var data []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(testID.String()))
		if bucket == nil {
			return nil
		}
		// Values returned by bbolt are only valid during the transaction.
		if value := bucket.Get(dictionaryKey); value != nil {
			data = append([]byte{}, value...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false
	}

	var stored storedDictionary
	if err = json.Unmarshal(data, &stored); err != nil {
		return nil, false
	}
	dictionary := valuegeneration.NewValueSet()
	for _, address := range stored.Addresses {
		dictionary.AddAddress(address)
	}
	for _, integer := range stored.Integers {
		if value, ok := new(big.Int).SetString(integer, 10); ok {
			dictionary.AddInteger(value)
		}
	}
	for _, s := range stored.Strings {
		dictionary.AddString(s)
	}
	for _, b := range stored.Bytes {
		dictionary.AddBytes(b)
	}
	return dictionary, true
}

// Delete removes the persisted dictionary of a test identity, if one exists.
func (d *DictionaryStore) Delete(testID TestID) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(testID.String())) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(testID.String()))
	})
	return errors.WithStack(err)
}

// TestIDs returns the test identities with a persisted dictionary, in bucket order.
func (d *DictionaryStore) TestIDs() []TestID {
	ids := make([]TestID, 0)
	_ = d.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if id, err := ParseTestID(string(name)); err == nil {
				ids = append(ids, id)
			}
			return nil
		})
	})
	return ids
}
