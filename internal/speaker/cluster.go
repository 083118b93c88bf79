package speaker

import "github.com/skypro1111/chunkscribe/internal/model"

// Instance is one chunk-local speaker with its representative embedding.
type Instance struct {
	ChunkIndex int
	Label      string
	Embedding  []float64
}

// Key returns the pending key the merger assigned to this speaker.
func (i Instance) Key() string {
	return model.PendingSpeakerKey(i.ChunkIndex, i.Label)
}

// Cluster is a group of instances believed to be one physical speaker.
type Cluster struct {
	Members []Instance
}

// Centroid returns the mean member embedding.
func (c *Cluster) Centroid() []float64 {
	vectors := make([][]float64, len(c.Members))
	for i, m := range c.Members {
		vectors[i] = m.Embedding
	}
	return Mean(vectors)
}

// Cohesion is 1 minus the mean member distance to the centroid.
func (c *Cluster) Cohesion() float64 {
	centroid := c.Centroid()
	if centroid == nil {
		return 0
	}
	var total float64
	for _, m := range c.Members {
		total += CosineDistance(m.Embedding, centroid)
	}
	return max(0, 1-total/float64(len(c.Members)))
}

// admits reports whether every member is within threshold of e and returns
// the distance to the nearest member.
func (c *Cluster) admits(e []float64, threshold float64) (float64, bool) {
	nearest := maxDistance + 1
	for _, m := range c.Members {
		d := CosineDistance(e, m.Embedding)
		if d > threshold {
			return d, false
		}
		nearest = min(nearest, d)
	}
	return nearest, true
}

// ClusterInstances groups instances greedily in the given order. An instance
// joins the admissible cluster with the nearest member, where admissible
// means every member is within threshold; otherwise it opens a new cluster.
// Ties go to the older cluster. Instances at distance 0 therefore always end
// up together, and no cluster holds two instances further apart than
// threshold.
func ClusterInstances(instances []Instance, threshold float64) []*Cluster {
	var clusters []*Cluster
	for _, inst := range instances {
		var best *Cluster
		bestDist := maxDistance + 1
		for _, c := range clusters {
			d, ok := c.admits(inst.Embedding, threshold)
			if ok && d < bestDist {
				best, bestDist = c, d
			}
		}
		if best == nil {
			clusters = append(clusters, &Cluster{Members: []Instance{inst}})
			continue
		}
		best.Members = append(best.Members, inst)
	}
	return clusters
}
