package services

import (
	"chart_engine_backend/models"
	"chart_engine_backend/services/analysis"
	"chart_engine_backend/services/workers"
)

// ComputeService fronts all overlay computation. Every request derives
// a fingerprint and consults the ResultMemo first; only misses reach
// the worker pool (or the same-thread path for warm-up sized series).
type ComputeService struct {
	pool *workers.Pool
	memo *ResultMemo
	ta   *analysis.TechnicalAnalysis
}

// NewComputeService wires the worker pool, memo and indicator math
// together.
func NewComputeService(poolCfg workers.Config, memo *ResultMemo) *ComputeService {
	ta := analysis.NewTechnicalAnalysis()
	svc := &ComputeService{memo: memo, ta: ta}
	svc.pool = workers.NewPool(poolCfg, svc.run)
	return svc
}

// run is the task body executed on pool workers.
func (s *ComputeService) run(kind workers.TaskKind, candles []models.Candle, params workers.TaskParams) (interface{}, error) {
	switch kind {
	case workers.KindSMA:
		return s.ta.CalculateSMA(candles, params.Period)
	case workers.KindEMA:
		return s.ta.CalculateEMA(candles, params.Period)
	case workers.KindRSI:
		return s.ta.CalculateRSI(candles, params.Period)
	case workers.KindMACD:
		return s.ta.CalculateMACD(candles, params.Fast, params.Slow, params.Signal)
	case workers.KindBollinger:
		return s.ta.CalculateBollingerBands(candles, params.Period, params.Width)
	case workers.KindHeikinAshi:
		return analysis.HeikinAshi(candles), nil
	default:
		return nil, workers.ErrWorkerCrashed
	}
}

// Execute computes an overlay off the interactive thread. A memo hit
// resolves immediately without touching the pool.
func (s *ComputeService) Execute(kind workers.TaskKind, candles []models.Candle, params workers.TaskParams) <-chan workers.TaskResult {
	fp := NewFingerprint(kind, candles, params)
	if value, ok := s.memo.Get(fp); ok {
		result := make(chan workers.TaskResult, 1)
		result <- workers.TaskResult{Value: value}
		return result
	}

	pending := s.pool.Execute(kind, candles, params)
	result := make(chan workers.TaskResult, 1)
	go func() {
		res := <-pending
		if res.Err == nil {
			s.memo.Set(fp, res.Value)
		}
		result <- res
	}()
	return result
}

// ExecuteSync computes an overlay on the calling goroutine, still
// guarded by the memo. Used by warming paths that already run in the
// background.
func (s *ComputeService) ExecuteSync(kind workers.TaskKind, candles []models.Candle, params workers.TaskParams) (interface{}, error) {
	fp := NewFingerprint(kind, candles, params)
	if value, ok := s.memo.Get(fp); ok {
		return value, nil
	}

	value, err := s.run(kind, candles, params)
	if err != nil {
		return nil, err
	}
	s.memo.Set(fp, value)
	return value, nil
}

// PoolStats exposes worker scheduling state.
func (s *ComputeService) PoolStats() workers.Stats {
	return s.pool.GetStats()
}

// Stop shuts the worker pool down.
func (s *ComputeService) Stop() {
	s.pool.Stop()
}

// StandardOverlays is the overlay set precomputed when warming chart
// slots for instant symbol switching.
var StandardOverlays = []struct {
	Kind   workers.TaskKind
	Params workers.TaskParams
}{
	{workers.KindSMA, workers.TaskParams{Period: 20}},
	{workers.KindEMA, workers.TaskParams{Period: 50}},
	{workers.KindRSI, workers.TaskParams{Period: 14}},
	{workers.KindMACD, workers.TaskParams{Fast: 12, Slow: 26, Signal: 9}},
}
