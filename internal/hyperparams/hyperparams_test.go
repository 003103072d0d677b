package hyperparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	set := FromConfig("kan,batch_size=64,learning_rate=0.01,name=le=net")
	require.Len(t, set, 4)
	require.Equal(t, "", set["kan"])
	require.Equal(t, "64", set["batch_size"])
	require.Equal(t, "le=net", set["name"]) // Only the first '=' splits.

	require.Empty(t, FromConfig(""))
}

func TestGetOrTypes(t *testing.T) {
	set := FromConfig("kan,batch_size=64,learning_rate=0.01,gamma=0.8,model=cnn")

	kan, err := GetOr(set, "kan", false)
	require.NoError(t, err)
	require.True(t, kan)

	batchSize, err := GetOr(set, "batch_size", 4)
	require.NoError(t, err)
	require.Equal(t, 64, batchSize)

	lr, err := GetOr(set, "learning_rate", float64(0.001))
	require.NoError(t, err)
	require.Equal(t, 0.01, lr)

	gamma, err := GetOr(set, "gamma", float32(1))
	require.NoError(t, err)
	require.Equal(t, float32(0.8), gamma)

	model, err := GetOr(set, "model", "kan")
	require.NoError(t, err)
	require.Equal(t, "cnn", model)

	// Absent keys return the default.
	epochs, err := GetOr(set, "epochs", 10)
	require.NoError(t, err)
	require.Equal(t, 10, epochs)
}

func TestGetOrParseErrors(t *testing.T) {
	set := FromConfig("batch_size=sixty-four")
	_, err := GetOr(set, "batch_size", 4)
	require.Error(t, err)
}

func TestPopAndCheckConsumed(t *testing.T) {
	set := FromConfig("batch_size=64,leraning_rate=0.01")
	_, err := PopOr(set, "batch_size", 4)
	require.NoError(t, err)
	_, err = PopOr(set, "learning_rate", float64(0.001))
	require.NoError(t, err)

	// The misspelled key is left over and must be reported.
	err = CheckConsumed(set)
	require.ErrorContains(t, err, "leraning_rate")

	delete(set, "leraning_rate")
	require.NoError(t, CheckConsumed(set))
}
