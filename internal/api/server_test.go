package api_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/keys"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/withdraw"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type fakeWorker struct {
	started int
	stopped int
}

func (w *fakeWorker) Start(context.Context) { w.started++ }
func (w *fakeWorker) Stop()                 { w.stopped++ }

type fakeScanner struct{ fakeWorker }

func (s *fakeScanner) RunCycle(context.Context, string) error { return nil }

type fakeReconciler struct{ fakeWorker }

func (r *fakeReconciler) Sweep(context.Context, string) error { return nil }

type fakeWithdraw struct{ fakeWorker }

func (w *fakeWithdraw) Create(context.Context, withdraw.CreateRequest) (*store.Withdrawal, error) {
	return nil, nil
}

func (w *fakeWithdraw) Approve(context.Context, string, string) (*store.Withdrawal, error) {
	return nil, nil
}

func (w *fakeWithdraw) Reject(context.Context, string, string) (*store.Withdrawal, error) {
	return nil, nil
}

func (w *fakeWithdraw) Get(context.Context, string) (*store.Withdrawal, error) { return nil, nil }

func (w *fakeWithdraw) RunCycle(context.Context, string) error { return nil }

func TestStartWorkersSkipsSignerWithoutSeed(t *testing.T) {
	scannerFake := &fakeScanner{}
	withdrawFake := &fakeWithdraw{}
	reconcilerFake := &fakeReconciler{}

	s := &api.Server{
		Seeds:      keys.NewSeedManager(),
		Scanner:    scannerFake,
		Withdraw:   withdrawFake,
		Reconciler: reconcilerFake,
	}

	s.StartWorkers(t.Context())

	assert.Equal(t, 1, scannerFake.started, "scanning keeps running without a seed")
	assert.Equal(t, 1, reconcilerFake.started)
	assert.Zero(t, withdrawFake.started, "signer must not start without the master seed")
}

func TestStartWorkersStartsSignerWithSeed(t *testing.T) {
	scannerFake := &fakeScanner{}
	withdrawFake := &fakeWithdraw{}
	reconcilerFake := &fakeReconciler{}

	seeds := keys.NewSeedManager()
	require.NoError(t, seeds.Initialize(testMnemonic, ""))
	t.Cleanup(seeds.Clear)

	s := &api.Server{
		Seeds:      seeds,
		Scanner:    scannerFake,
		Withdraw:   withdrawFake,
		Reconciler: reconcilerFake,
	}

	s.StartWorkers(t.Context())

	assert.Equal(t, 1, scannerFake.started)
	assert.Equal(t, 1, withdrawFake.started)
	assert.Equal(t, 1, reconcilerFake.started)
}
