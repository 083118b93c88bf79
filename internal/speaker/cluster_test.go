package speaker

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rotate returns a unit vector at angle theta in the plane, so distances are
// easy to reason about: d = 1 - cos(delta).
func rotate(theta float64) []float64 {
	return []float64{math.Cos(theta), math.Sin(theta)}
}

func angleFor(distance float64) float64 {
	return math.Acos(1 - distance)
}

func clusterOf(clusters []*Cluster, key string) int {
	for i, c := range clusters {
		for _, m := range c.Members {
			if m.Key() == key {
				return i
			}
		}
	}
	return -1
}

func TestClusterInstancesTwoSpeakersAcrossChunks(t *testing.T) {
	a0 := rotate(0)
	b0 := rotate(math.Pi / 2)
	a1 := rotate(angleFor(0.05))
	b1 := rotate(math.Pi/2 - angleFor(0.05))

	clusters := ClusterInstances([]Instance{
		{ChunkIndex: 0, Label: "A", Embedding: a0},
		{ChunkIndex: 0, Label: "B", Embedding: b0},
		{ChunkIndex: 1, Label: "A", Embedding: a1},
		{ChunkIndex: 1, Label: "B", Embedding: b1},
	}, 0.3)

	require.Len(t, clusters, 2)
	assert.Equal(t, clusterOf(clusters, "chunk_0_A"), clusterOf(clusters, "chunk_1_A"))
	assert.Equal(t, clusterOf(clusters, "chunk_0_B"), clusterOf(clusters, "chunk_1_B"))
	assert.NotEqual(t, clusterOf(clusters, "chunk_0_A"), clusterOf(clusters, "chunk_0_B"))
}

func TestClusterInstancesRejectsChaining(t *testing.T) {
	// x-y and y-z are within threshold, x-z is not; z must not join x.
	step := angleFor(0.25)
	clusters := ClusterInstances([]Instance{
		{ChunkIndex: 0, Label: "X", Embedding: rotate(0)},
		{ChunkIndex: 1, Label: "Y", Embedding: rotate(step)},
		{ChunkIndex: 2, Label: "Z", Embedding: rotate(2 * step)},
	}, 0.3)

	assert.Equal(t, clusterOf(clusters, "chunk_0_X"), clusterOf(clusters, "chunk_1_Y"))
	assert.NotEqual(t, clusterOf(clusters, "chunk_0_X"), clusterOf(clusters, "chunk_2_Z"))
}

func TestClusterInstancesConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const threshold = 0.3

	for trial := 0; trial < 50; trial++ {
		var instances []Instance
		for i := 0; i < 12; i++ {
			v := rotate(rng.Float64() * 2 * math.Pi)
			instances = append(instances, Instance{ChunkIndex: i, Label: "S", Embedding: v})
			if rng.Intn(3) == 0 {
				// exact duplicate direction, scaled
				dup := []float64{v[0] * 3, v[1] * 3}
				instances = append(instances, Instance{ChunkIndex: i, Label: "D", Embedding: dup})
			}
		}

		clusters := ClusterInstances(instances, threshold)

		for _, a := range instances {
			for _, b := range instances {
				ca, cb := clusterOf(clusters, a.Key()), clusterOf(clusters, b.Key())
				d := CosineDistance(a.Embedding, b.Embedding)
				if d == 0 {
					assert.Equal(t, ca, cb, "distance-0 embeddings split: %s %s", a.Key(), b.Key())
				}
				if d > threshold {
					assert.NotEqual(t, ca, cb, "distant embeddings merged: %s %s (%.3f)", a.Key(), b.Key(), d)
				}
			}
		}
	}
}

func TestClusterCohesion(t *testing.T) {
	c := &Cluster{Members: []Instance{{Embedding: rotate(0)}}}
	assert.InDelta(t, 1.0, c.Cohesion(), 1e-9)

	c.Members = append(c.Members, Instance{Embedding: rotate(angleFor(0.2))})
	assert.Less(t, c.Cohesion(), 1.0)
	assert.Greater(t, c.Cohesion(), 0.8)
}
