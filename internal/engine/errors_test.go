package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/upsert"
)

func TestRunError_Format(t *testing.T) {
	err := NewConnectivityError(credential.OriginStaff, StageWrite, credential.ErrUnavailable)
	assert.Equal(t, "CONNECTIVITY: dataset unavailable (origin=staff, stage=write): dataset unavailable", err.Error())

	notice := NewIdentityMissingNotice(credential.OriginGuardian, 3)
	assert.Equal(t, "SOURCE_IDENTITY_MISSING: 3 qualifying record(s) have no identity (origin=guardian, stage=read)", notice.Error())
}

func TestIsConnectivityError(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", NewConnectivityError(credential.OriginStaff, StageRead, errors.New("dial tcp")))
	assert.True(t, IsConnectivityError(wrapped))
	assert.True(t, IsConnectivityError(fmt.Errorf("ping: %w", credential.ErrUnavailable)))
	assert.False(t, IsConnectivityError(errors.New("boom")))
	assert.False(t, IsConnectivityError(NewWriteConflictError(credential.OriginStaff, upsert.Result{})))
}

func TestNewWriteConflictError(t *testing.T) {
	res := upsert.Result{}
	res.Fail(0, "E1", errors.New("x"))
	res.Fail(3, "E4", errors.New("y"))

	err := NewWriteConflictError(credential.OriginStaff, res)
	assert.True(t, IsWriteConflict(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "E1,E4", err.Details["user_ids"])
	assert.Equal(t, "2 upsert(s) failed", err.Message)
}
