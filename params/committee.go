package params

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/daehankim/dagwave/pkg/consensus"
)

// CommitteeAuthority is one committee member in the on-disk committee file
// produced by cmd/keygen and shared by every node of the epoch.
type CommitteeAuthority struct {
	Stake uint64 `json:"stake"`
	// BLSKey is the hex-encoded protocol public key blocks are verified
	// against.
	BLSKey string `json:"blsKey"`
	// Address is the authority's secp256k1 address, used to attribute
	// transaction blobs.
	Address  string `json:"address"`
	Hostname string `json:"hostname"`
}

// CommitteeFile is the JSON epoch committee.
type CommitteeFile struct {
	Epoch uint64 `json:"epoch"`
	// Seed feeds the leader schedule; 32 bytes hex, agreed out of band.
	Seed        string               `json:"seed"`
	Authorities []CommitteeAuthority `json:"authorities"`
}

// SaveCommittee writes the committee file with keygen's conventions.
func SaveCommittee(path string, f *CommitteeFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal committee: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write committee %s: %w", path, err)
	}
	return nil
}

// LoadCommittee reads the committee file and builds the immutable committee
// the consensus core runs against.
func LoadCommittee(path string) (*consensus.Committee, *CommitteeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read committee %s: %w", path, err)
	}
	var f CommitteeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse committee %s: %w", path, err)
	}
	if len(f.Authorities) == 0 {
		return nil, nil, fmt.Errorf("committee %s lists no authorities", path)
	}

	var seed consensus.Hash
	if f.Seed != "" {
		raw, err := hex.DecodeString(f.Seed)
		if err != nil || len(raw) != len(seed) {
			return nil, nil, fmt.Errorf("committee seed must be %d hex bytes", len(seed))
		}
		copy(seed[:], raw)
	}

	auths := make([]consensus.Authority, 0, len(f.Authorities))
	for i, a := range f.Authorities {
		key, err := hex.DecodeString(a.BLSKey)
		if err != nil {
			return nil, nil, fmt.Errorf("authority %d: bad bls key: %w", i, err)
		}
		auths = append(auths, consensus.Authority{
			Stake:       consensus.Stake(a.Stake),
			ProtocolKey: key,
			Hostname:    a.Hostname,
		})
	}
	return consensus.NewCommittee(f.Epoch, seed, auths), &f, nil
}
