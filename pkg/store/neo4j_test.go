package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chronoquery/chronoquery/pkg/types"
)

func TestCausalChainQueryDirections(t *testing.T) {
	t.Run("upstream points into the seed", func(t *testing.T) {
		q := causalChainQuery(types.DirectionUpstream, 5)
		assert.Contains(t, q, "(cause:Event)-[rels:CAUSES*1..5]->(seed:Event {id: $eventID})")
	})

	t.Run("downstream points out of the seed", func(t *testing.T) {
		q := causalChainQuery(types.DirectionDownstream, 3)
		assert.Contains(t, q, "(seed:Event {id: $eventID})-[rels:CAUSES*1..3]->(cause:Event)")
	})

	t.Run("both is undirected", func(t *testing.T) {
		q := causalChainQuery(types.DirectionBoth, 2)
		assert.Contains(t, q, "CAUSES*1..2]-(cause:Event)")
		assert.NotContains(t, q, "CAUSES*1..2]->(cause:Event)")
	})

	t.Run("returns canonical aliases", func(t *testing.T) {
		q := causalChainQuery(types.DirectionUpstream, 4)
		for _, alias := range []string{"event_id", "description", "ts_start", "confidence", "hop"} {
			assert.Contains(t, q, "AS "+alias)
		}
		assert.Contains(t, q, "ORDER BY hop ASC")
	})
}
