package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"phe-toolkit/storage"
)

func TestBallotQueue(t *testing.T) {
	p := newTestPaillier(t, storage.NewMemoryKeyStore())
	vcs, err := NewVoteCountingService(p, 3, nil)
	require.NoError(t, err)

	q := NewBallotQueue(vcs, 16, 3, nil)
	q.Start()

	var ballots []*Ballot
	for _, c := range []int{0, 1, 1, 2, 2, 2} {
		b, err := vcs.CastBallot(c)
		require.NoError(t, err)
		ballots = append(ballots, b)
	}
	// The duplicate is rejected by the counter, not the queue.
	ballots = append(ballots, ballots[0])

	var rejected int
	for i, ch := range q.SubmitBatch(ballots) {
		res := <-ch
		require.Equal(t, ballots[i].ID, res.BallotID)
		if res.Err != nil {
			require.ErrorIs(t, res.Err, ErrDuplicateBallot)
			rejected++
		}
		_, open := <-ch
		require.False(t, open)
	}
	require.Equal(t, 1, rejected)

	q.Stop()
	q.Stop()

	res, err := vcs.CountVotes()
	require.NoError(t, err)
	requireCounts(t, counts(1, 2, 3), res.Counts)
	require.Equal(t, 6, q.Metrics().Count)

	late := <-q.Submit(ballots[1])
	require.ErrorIs(t, late.Err, ErrQueueStopped)
}

func TestBallotQueueFull(t *testing.T) {
	p := newTestPaillier(t, storage.NewMemoryKeyStore())
	vcs, err := NewVoteCountingService(p, 2, nil)
	require.NoError(t, err)

	// Not started, so nothing drains the single slot.
	q := NewBallotQueue(vcs, 1, 1, nil)
	b1, err := vcs.CastBallot(0)
	require.NoError(t, err)
	b2, err := vcs.CastBallot(1)
	require.NoError(t, err)

	first := q.Submit(b1)
	full := <-q.Submit(b2)
	require.ErrorIs(t, full.Err, ErrQueueFull)
	require.Equal(t, b2.ID, full.BallotID)

	q.Start()
	require.NoError(t, (<-first).Err)
	q.Stop()
	require.Equal(t, 1, vcs.TotalBallots())
}
