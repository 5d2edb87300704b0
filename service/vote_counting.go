package service

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"phe-toolkit/encryption"
	"phe-toolkit/packing"
)

// ErrDuplicateBallot is returned when a ballot id was already counted.
var ErrDuplicateBallot = errors.New("ballot already counted")

// Ballot is an encrypted vector of per-candidate counts, packed into
// ciphertext blocks.
type Ballot struct {
	ID     uuid.UUID `json:"id"`
	Blocks []string  `json:"blocks"`
	CastAt time.Time `json:"cast_at"`
}

// TallyResults is the decrypted sum of all counted ballots.
type TallyResults struct {
	TotalBallots int        `json:"total_ballots"`
	Counts       []*big.Int `json:"counts"`
}

// VoteCountingService sums packed ballots under an additive scheme. Adding
// ballots needs only the public key; CountVotes needs the private key.
type VoteCountingService struct {
	scheme     encryption.Scheme
	codec      *packing.Codec
	padding    int
	perBlock   int
	candidates int
	logger     log.Logger

	mu      sync.RWMutex
	counted map[uuid.UUID]bool
	sum     []encryption.Value
}

func NewVoteCountingService(scheme encryption.Scheme, candidates int, logger log.Logger) (*VoteCountingService, error) {
	if scheme == nil || scheme.Property() != encryption.PropertyAHE {
		return nil, fmt.Errorf("%w: vote counting needs an additive scheme", encryption.ErrConfiguration)
	}
	if candidates <= 0 {
		return nil, fmt.Errorf("%w: need at least one candidate", encryption.ErrConfiguration)
	}
	codec, err := packing.ForScheme(scheme)
	if err != nil {
		return nil, err
	}
	padding := codec.DefaultPadding()
	perBlock, err := codec.ItemsPerBlock(padding)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Root()
	}

	return &VoteCountingService{
		scheme:     scheme,
		codec:      codec,
		padding:    padding,
		perBlock:   perBlock,
		candidates: candidates,
		logger:     logger.With("component", "tally"),
		counted:    make(map[uuid.UUID]bool),
	}, nil
}

// Blocks is the number of ciphertexts per ballot.
func (vcs *VoteCountingService) Blocks() int {
	return (vcs.candidates + vcs.perBlock - 1) / vcs.perBlock
}

// CastBallot encrypts a vote for candidate choice.
func (vcs *VoteCountingService) CastBallot(choice int) (*Ballot, error) {
	if choice < 0 || choice >= vcs.candidates {
		return nil, fmt.Errorf("%w: choice %d outside [0, %d)", encryption.ErrValueOutOfRange, choice, vcs.candidates)
	}
	counts := make([]int64, vcs.candidates)
	counts[choice] = 1
	return vcs.EncryptCounts(counts)
}

// EncryptCounts encrypts an arbitrary non-negative count vector, for
// weighted or pre-aggregated ballots.
func (vcs *VoteCountingService) EncryptCounts(counts []int64) (*Ballot, error) {
	if len(counts) != vcs.candidates {
		return nil, fmt.Errorf("%w: ballot has %d counts, expected %d", encryption.ErrValueOutOfRange, len(counts), vcs.candidates)
	}
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative count %d for candidate %d", encryption.ErrValueOutOfRange, c, i)
		}
	}

	blocks, err := vcs.codec.Pack(counts, vcs.padding, false)
	if err != nil {
		return nil, err
	}
	cts, err := packing.EncryptBlocks(vcs.scheme, blocks, encryption.RandomnessFresh)
	if err != nil {
		return nil, err
	}

	ballot := &Ballot{ID: uuid.New(), CastAt: time.Now().UTC()}
	for _, ct := range cts {
		ballot.Blocks = append(ballot.Blocks, ct.String())
	}
	return ballot, nil
}

// AddBallot folds a ballot into the running encrypted sum. A ballot id is
// counted at most once.
func (vcs *VoteCountingService) AddBallot(b *Ballot) error {
	if b == nil {
		return fmt.Errorf("%w: empty ballot", encryption.ErrMalformedCiphertext)
	}
	if len(b.Blocks) != vcs.Blocks() {
		return fmt.Errorf("%w: ballot %s has %d blocks, expected %d", encryption.ErrMalformedCiphertext, b.ID, len(b.Blocks), vcs.Blocks())
	}

	vcs.mu.Lock()
	defer vcs.mu.Unlock()

	if vcs.counted[b.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateBallot, b.ID)
	}

	cts := make([]encryption.Value, len(b.Blocks))
	for i, s := range b.Blocks {
		v, err := encryption.TextValue(s).As(vcs.scheme.CiphertextType())
		if err != nil {
			return fmt.Errorf("%w: ballot %s block %d: %v", encryption.ErrMalformedCiphertext, b.ID, i, err)
		}
		cts[i] = v
	}

	if vcs.sum == nil {
		// The first ballot is range-checked by a throwaway evaluation.
		for i := range cts {
			if _, err := vcs.scheme.Evaluate(cts[i], cts[i]); err != nil {
				return fmt.Errorf("ballot %s block %d: %w", b.ID, i, err)
			}
		}
		vcs.sum = cts
	} else {
		sum, err := packing.EvaluateBlocks(vcs.scheme, vcs.sum, cts)
		if err != nil {
			return fmt.Errorf("ballot %s: %w", b.ID, err)
		}
		vcs.sum = sum
	}

	vcs.counted[b.ID] = true
	vcs.logger.Debug("Counted ballot", "id", b.ID, "total", len(vcs.counted))
	return nil
}

// CountVotes decrypts the running sum.
func (vcs *VoteCountingService) CountVotes() (*TallyResults, error) {
	vcs.mu.RLock()
	defer vcs.mu.RUnlock()

	results := &TallyResults{TotalBallots: len(vcs.counted)}
	if vcs.sum == nil {
		results.Counts = make([]*big.Int, vcs.candidates)
		for i := range results.Counts {
			results.Counts[i] = new(big.Int)
		}
		return results, nil
	}

	blocks, err := packing.DecryptBlocks(vcs.scheme, vcs.sum)
	if err != nil {
		return nil, err
	}
	for i, block := range blocks {
		items := min(vcs.perBlock, vcs.candidates-i*vcs.perBlock)
		counts, err := vcs.codec.UnpackBlock(vcs.codec.AlignBlock(block, items, vcs.padding), vcs.padding, false)
		if err != nil {
			return nil, err
		}
		results.Counts = append(results.Counts, counts...)
	}

	vcs.logger.Info("Counted votes", "ballots", results.TotalBallots, "candidates", vcs.candidates)
	return results, nil
}

// TotalBallots is the number of ballots counted so far.
func (vcs *VoteCountingService) TotalBallots() int {
	vcs.mu.RLock()
	defer vcs.mu.RUnlock()

	return len(vcs.counted)
}
