package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"family-custody/internal/logger"
	"family-custody/internal/models"
)

// HeadSource is anything that can report a chain head. All three chain
// clients satisfy it.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type ChainStatus struct {
	Name      string `json:"name"`
	LastBlock uint64 `json:"last_block"`
}

var (
	isReady       int32
	chainStatuses = make(map[string]*ChainStatus)
	statusMutex   sync.RWMutex
)

func SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&isReady, 1)
	} else {
		atomic.StoreInt32(&isReady, 0)
	}
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	statusMutex.RLock()
	defer statusMutex.RUnlock()

	if len(chainStatuses) == 0 || atomic.LoadInt32(&isReady) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))

		return
	}

	response := make(map[string]interface{})
	response["status"] = "Ready"
	response["chains"] = chainStatuses

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// WatchChain samples the chain head every 10 seconds and keeps the
// readiness payload current.
func WatchChain(ctx context.Context, chain models.ChainName, source HeadSource) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				head, err := source.BlockNumber(ctx)
				if err != nil {
					logger.GetLogger().Error().
						Err(err).
						Str("chain", chain.String()).
						Msg("Error getting latest block")
				} else {
					updateChainStatus(chain.String(), head)
				}
				time.Sleep(10 * time.Second)
			}
		}
	}()
}

func updateChainStatus(name string, lastBlock uint64) {
	statusMutex.Lock()
	defer statusMutex.Unlock()
	chainStatuses[name] = &ChainStatus{
		Name:      name,
		LastBlock: lastBlock,
	}
}
