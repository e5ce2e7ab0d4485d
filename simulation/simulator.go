package simulation

import (
	"context"
	"math/big"
	"time"

	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

const DefaultGasBufferPercent = 20

// Simulator dry-runs drafts against latest state. It is advisory: a node that
// cannot be reached yields no result rather than an error.
type Simulator struct {
	readers      clients.Readers
	gasBufferPct int64
	log          logger.Logger
	metrics      metrics.Recorder
}

func New(readers clients.Readers, gasBufferPct int64, log logger.Logger, rec metrics.Recorder) *Simulator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if gasBufferPct <= 0 {
		gasBufferPct = DefaultGasBufferPercent
	}
	return &Simulator{readers: readers, gasBufferPct: gasBufferPct, log: log, metrics: rec}
}

// Simulate returns nil when the dry run could not be performed. On success the
// draft's gas limit is replaced by a buffered estimate.
func (s *Simulator) Simulate(ctx context.Context, draft *types.TransactionDraft) (*types.SimulationResult, error) {
	fields := map[string]any{"network": draft.Network, "mode": draft.Mode, "purpose": draft.Purpose}

	reader, err := s.readers.Get(draft.Network)
	if err != nil {
		s.log.Warn("simulation skipped", logger.Merge(fields, map[string]any{"error": err}))
		return nil, nil
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency(metrics.OpSimulate, time.Since(start), map[string]string{"network": string(draft.Network)})
	}()

	msg := draft.CallMsg()
	msg.Gas = 0
	if _, err := reader.CallContract(ctx, msg, nil); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if clients.IsTransient(err) {
			s.log.Warn("simulation unavailable", logger.Merge(fields, map[string]any{"error": err}))
			return nil, nil
		}

		reason, message, data := Classify(err)
		s.log.Info("simulation reverted", logger.Merge(fields, map[string]any{
			"reason":  string(reason),
			"message": message,
		}))
		return &types.SimulationResult{
			Success:    false,
			Reason:     reason,
			Message:    message,
			RevertData: data,
		}, nil
	}

	result := &types.SimulationResult{Success: true}
	estimate, err := reader.EstimateGas(ctx, msg)
	if err != nil {
		s.log.Warn("gas estimate failed, keeping default limit", logger.Merge(fields, map[string]any{"error": err, "gas": draft.Gas}))
		return result, nil
	}

	result.GasUsed = estimate
	draft.Gas = utils.ApplyBuffer(new(big.Int).SetUint64(estimate), s.gasBufferPct).Uint64()
	return result, nil
}
