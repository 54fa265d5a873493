package dag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDag = `{
	"name": "word-count",
	"version": "v1",
	"dag": [
		{
			"name": "split",
			"dependency": [],
			"spec": {
				"image": "jiaoziflow/split:latest",
				"cmd": ["./split"],
				"replicas": 1,
				"storage": {"class_name": "standard", "capacity": "10Gi", "access_mode": "ReadWriteMany"}
			},
			"channel": {
				"spec": {
					"image": "",
					"cmd": [],
					"replicas": 1,
					"storage": {"class_name": "standard", "capacity": "5Gi", "access_mode": "ReadWriteMany"}
				}
			}
		},
		{
			"name": "count",
			"dependency": ["split"],
			"spec": {
				"image": "jiaoziflow/count:latest",
				"cmd": ["./count"],
				"replicas": 3,
				"storage": {"class_name": "standard", "capacity": "10Gi", "access_mode": "ReadWriteMany"}
			}
		},
		{
			"name": "reduce",
			"dependency": ["count"],
			"spec": {
				"image": "jiaoziflow/reduce:latest",
				"cmd": ["./reduce"],
				"replicas": 1,
				"storage": {"class_name": "standard", "capacity": "10Gi", "access_mode": "ReadWriteMany"}
			}
		}
	]
}`

func TestFromJSON(t *testing.T) {
	d, err := FromJSON([]byte(sampleDag))
	require.NoError(t, err)
	require.Equal(t, "word-count", d.Name)
	require.Equal(t, 3, d.Len())

	split, err := d.GetNode("split")
	require.NoError(t, err)
	require.NotNil(t, split.Channel)
	require.Equal(t, "split-channel", split.Channel.Name)

	count, err := d.GetNode("count")
	require.NoError(t, err)
	require.Nil(t, count.Channel)
	require.Equal(t, uint32(3), count.Replicas)
}

func TestFromJSON_TopoOrder(t *testing.T) {
	d, err := FromJSON([]byte(sampleDag))
	require.NoError(t, err)

	var seen []string
	require.NoError(t, d.Iter(func(cu *ComputeUnit) error {
		seen = append(seen, cu.Name)
		return nil
	}))
	require.Equal(t, []string{"split", "count", "reduce"}, seen)
}

func TestFromJSON_UnknownDependency(t *testing.T) {
	bad := `{"name":"bad","dag":[{"name":"a","dependency":["missing"],"spec":{"image":"x","cmd":[]}}]}`
	_, err := FromJSON([]byte(bad))
	require.Error(t, err)
}

func TestFromJSON_Cycle(t *testing.T) {
	cyclic := `{"name":"cyclic","dag":[
		{"name":"a","dependency":["b"],"spec":{"image":"x","cmd":[]}},
		{"name":"b","dependency":["a"],"spec":{"image":"x","cmd":[]}}
	]}`
	_, err := FromJSON([]byte(cyclic))
	require.Error(t, err)
}

func TestGetIncomingOutgoingNodes(t *testing.T) {
	d, err := FromJSON([]byte(sampleDag))
	require.NoError(t, err)

	require.Equal(t, []string{"split"}, d.GetIncomingNodes("count"))
	require.Equal(t, []string{"count"}, d.GetOutgoingNodes("split"))
	require.Empty(t, d.GetIncomingNodes("split"))
	require.Empty(t, d.GetOutgoingNodes("reduce"))
}

func TestSuccessors(t *testing.T) {
	d, err := FromJSON([]byte(sampleDag))
	require.NoError(t, err)
	require.Equal(t, []string{"split", "count", "reduce"}, d.Successors("split"))
	require.Equal(t, []string{"reduce"}, d.Successors("reduce"))
}
