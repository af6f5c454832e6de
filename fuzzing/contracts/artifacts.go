package contracts

import (
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// foundryArtifact describes the subset of a Foundry build artifact (out/<File>.sol/<Contract>.json) we consume.
type foundryArtifact struct {
	Abi              any                     `json:"abi"`
	Bytecode         foundryArtifactBytecode `json:"bytecode"`
	DeployedBytecode foundryArtifactBytecode `json:"deployedBytecode"`
	Metadata         *struct {
		Settings struct {
			CompilationTarget map[string]string `json:"compilationTarget"`
		} `json:"settings"`
	} `json:"metadata"`
}

// foundryArtifactBytecode describes a bytecode object within a Foundry build artifact.
type foundryArtifactBytecode struct {
	Object string `json:"object"`
}

// LoadArtifacts walks a Foundry artifacts directory and parses every contract artifact within it. Files which are not
// contract artifacts (build info, caches) and contracts whose bytecode still carries unlinked library placeholders
// are skipped.
// Returns the parsed contracts in lexical path order, or an error if the directory could not be read.
func LoadArtifacts(artifactsDir string) (Contracts, error) {
	logger := logging.GlobalLogger.NewSubLogger("module", "contracts")

	info, err := os.Stat(artifactsDir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read artifacts directory %v", artifactsDir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("artifacts path %v is not a directory", artifactsDir)
	}

	contracts := make(Contracts, 0)
	err = filepath.WalkDir(artifactsDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" {
			return nil
		}

		contract, err := parseArtifact(path)
		if err != nil {
			logger.Debug("Skipping artifact ", path, ": ", err.Error())
			return nil
		}
		if contract != nil {
			contracts = append(contracts, contract)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not load artifacts from %v", artifactsDir)
	}

	logger.Debug("Loaded ", len(contracts), " contract artifacts from ", artifactsDir)
	return contracts, nil
}

// parseArtifact parses a single Foundry artifact file.
// Returns the contract, nil if the file is not a contract artifact, or an error if it could not be parsed.
func parseArtifact(path string) (*Contract, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var artifact foundryArtifact
	if err = json.Unmarshal(b, &artifact); err != nil {
		return nil, errors.Wrap(err, "malformed artifact")
	}
	if artifact.Abi == nil {
		return nil, nil
	}

	contractAbi, err := parseABIFromInterface(artifact.Abi)
	if err != nil {
		return nil, errors.Wrap(err, "malformed abi")
	}

	initBytecode, err := decodeBytecode(artifact.Bytecode.Object)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse init bytecode")
	}
	runtimeBytecode, err := decodeBytecode(artifact.DeployedBytecode.Object)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse runtime bytecode")
	}

	// The contract name is the file name. The source path comes from the compilation target when the metadata is
	// present, otherwise the artifact's parent directory (the source file name) is used.
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	sourcePath := filepath.Base(filepath.Dir(path))
	if artifact.Metadata != nil {
		for targetPath, targetName := range artifact.Metadata.Settings.CompilationTarget {
			if targetName == name {
				sourcePath = targetPath
			}
		}
	}
	return NewContract(name, sourcePath, *contractAbi, initBytecode, runtimeBytecode), nil
}

// parseABIFromInterface parses an ABI which was decoded into a generic JSON value, or provided as a JSON string.
func parseABIFromInterface(i any) (*abi.ABI, error) {
	var b []byte
	if s, ok := i.(string); ok {
		b = []byte(s)
	} else {
		var err error
		b, err = json.Marshal(i)
		if err != nil {
			return nil, err
		}
	}

	result, err := abi.JSON(strings.NewReader(string(b)))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// decodeBytecode decodes hex bytecode with an optional 0x prefix. Bytecode with unlinked library placeholders fails to
// decode.
func decodeBytecode(object string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(object, "0x"))
}
