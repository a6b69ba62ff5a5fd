package execution

import (
	"time"

	"github.com/google/uuid"

	"perpengine/internal/domain"
)

// clientOrderIdBucket is the width a signal's wall-clock timestamp is
// floored to before hashing: two submit attempts for the same (strategy,
// symbol, side) within the same bucket collapse to the same clientOrderId,
// making a retried submit idempotent at the exchange even if the engine
// crashes and re-submits from a persisted pending order.
const clientOrderIdBucket = 5 * time.Second

// clientOrderIdNamespace seeds the deterministic UUIDv5 derivation below.
// Any fixed UUID works here; it exists only to separate this hash's input
// space from other uuid.NewSHA1 callers.
var clientOrderIdNamespace = uuid.MustParse("6f6d7465-6e67-696e-6500-000000000001")

// newClientOrderId computes the deterministic idempotency key
// hash(strategyId|symbol|side|bucketedTime) as a namespaced UUIDv5, rather
// than a fresh random id per attempt, so repeated submit attempts within
// the same time bucket collapse to the same id and a retried submit can
// never double-fill at the exchange.
func newClientOrderId(strategyId string, symbol domain.Symbol, side domain.Side, at time.Time) string {
	bucketed := at.UTC().Truncate(clientOrderIdBucket).Unix()
	name := strategyId + "|" + symbol.PairString() + "|" + string(side) + "|" + time.Unix(bucketed, 0).UTC().Format(time.RFC3339)
	return uuid.NewSHA1(clientOrderIdNamespace, []byte(name)).String()
}
