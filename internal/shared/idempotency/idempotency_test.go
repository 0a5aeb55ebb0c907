package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joshuarp/inference-api/internal/shared/kv"
)

type KVLedgerSuite struct {
	suite.Suite

	ledger *KVLedger
	ctx    context.Context
}

func (s *KVLedgerSuite) SetupTest() {
	s.ledger = NewKVLedger(kv.NewMemoryStore())
	s.ctx = context.Background()
}

func (s *KVLedgerSuite) TestReplayMissOnUnknownToken() {
	_, found, err := s.ledger.CheckReplay(s.ctx, "token-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *KVLedgerSuite) TestRecordThenReplayIsByteIdentical() {
	payload := []byte(`{"text":"placeholder text","confidence":0.42}`)
	require.NoError(s.T(), s.ledger.Record(s.ctx, "token-1", payload, time.Minute))

	stored, found, err := s.ledger.CheckReplay(s.ctx, "token-1")
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.Equal(s.T(), payload, stored)
}

func (s *KVLedgerSuite) TestRecordExpiresWithTTL() {
	require.NoError(s.T(), s.ledger.Record(s.ctx, "token-1", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, found, err := s.ledger.CheckReplay(s.ctx, "token-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *KVLedgerSuite) TestEmptyTokenRejected() {
	_, _, err := s.ledger.CheckReplay(s.ctx, "   ")
	require.Error(s.T(), err)
	assert.ErrorContains(s.T(), err, "token is required")

	err = s.ledger.Record(s.ctx, "", []byte("v"), time.Minute)
	require.Error(s.T(), err)
	assert.ErrorContains(s.T(), err, "token is required")
}

func TestKVLedgerSuite(t *testing.T) {
	suite.Run(t, new(KVLedgerSuite))
}
