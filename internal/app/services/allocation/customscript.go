package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/services/scoring"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// Script guard rails.
const (
	DefaultScriptTimeout = 250 * time.Millisecond
	maxScriptSize        = 64 * 1024
)

// ScriptHook runs an operator-supplied JavaScript ranking function backing
// the custom allocation strategy. The script must define
// rank(candidates, reservation) and return an array of
// {warehouse_id, score} objects.
type ScriptHook struct {
	source  string
	timeout time.Duration
	log     *logger.Logger
}

// NewScriptHook compiles nothing up front; the script is evaluated per run
// in a fresh runtime so state cannot leak between reservations.
func NewScriptHook(source string, timeout time.Duration, log *logger.Logger) (*ScriptHook, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("script source is empty")
	}
	if len(source) > maxScriptSize {
		return nil, fmt.Errorf("script exceeds maximum size of %d bytes", maxScriptSize)
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	if log == nil {
		log = logger.NewDefault("allocation-script")
	}
	return &ScriptHook{source: source, timeout: timeout, log: log}, nil
}

// Rescore evaluates the script against the ranked candidates and reorders
// them by the returned scores, descending, ties by warehouse id. Candidates
// the script omits keep their engine score.
func (h *ScriptHook) Rescore(ctx context.Context, res reservation.Reservation, ranked []scoring.Ranked) ([]scoring.Ranked, error) {
	vm := goja.New()

	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	candidates := make([]interface{}, len(ranked))
	for i, cand := range ranked {
		candidates[i] = map[string]interface{}{
			"warehouse_id": cand.Warehouse.ID,
			"city":         cand.Warehouse.City,
			"zone":         cand.Warehouse.Zone,
			"available":    cand.Available,
			"capacity":     cand.Warehouse.Capacity,
			"committed":    cand.Warehouse.CommittedUnits,
			"perishable":   cand.Warehouse.PerishablePriority,
			"score":        cand.Score,
		}
	}
	resInput := map[string]interface{}{
		"id":                 res.ID,
		"order_id":           res.OrderID,
		"variant_id":         res.VariantID,
		"requested_quantity": res.RequestedQuantity,
		"reserved_quantity":  res.ReservedQuantity,
		"priority":           res.Priority.String(),
		"order_value":        res.Data.OrderValue,
		"category":           res.Data.Category,
		"destination_zone":   res.Data.DestinationZone,
	}

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		h.log.WithField("reservation_id", res.ID).Debug(fmt.Sprint(args...))
		return goja.Undefined()
	})
	vm.Set("console", console)

	if _, err := vm.RunString(h.source); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	rankFn, ok := goja.AssertFunction(vm.Get("rank"))
	if !ok {
		return nil, fmt.Errorf("script must define a 'rank' function")
	}
	result, err := rankFn(goja.Undefined(), vm.ToValue(candidates), vm.ToValue(resInput))
	if err != nil {
		return nil, fmt.Errorf("rank execution: %w", err)
	}

	scores, err := exportScores(result)
	if err != nil {
		return nil, err
	}

	out := make([]scoring.Ranked, len(ranked))
	copy(out, ranked)
	for i := range out {
		if score, ok := scores[out[i].Warehouse.ID]; ok {
			out[i].Score = score
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Warehouse.ID < out[j].Warehouse.ID
	})
	return out, nil
}

func exportScores(result goja.Value) (map[string]float64, error) {
	if result == nil || result == goja.Undefined() || result == goja.Null() {
		return nil, fmt.Errorf("rank returned no result")
	}

	entries, ok := result.Export().([]interface{})
	if !ok {
		return nil, fmt.Errorf("rank must return an array of {warehouse_id, score}")
	}

	scores := make(map[string]float64, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := fields["warehouse_id"].(string)
		if id == "" {
			continue
		}
		scores[id] = toFloat(fields["score"])
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("rank returned no usable entries")
	}
	return scores, nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
