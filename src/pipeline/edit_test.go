package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemovePlugin(t *testing.T) {
	cfg, _, err := Parse([]byte(`
prebuild_plugins:
  - name: koji
  - name: add_labels_in_dockerfile
  - name: koji
`))
	require.NoError(t, err)

	assert.True(t, cfg.HasPlugin(PhasePrebuild, "koji"))
	assert.True(t, cfg.RemovePlugin(PhasePrebuild, "koji"))
	assert.False(t, cfg.HasPlugin(PhasePrebuild, "koji"))
	assert.Equal(t, []string{"add_labels_in_dockerfile"}, names(cfg.Plugins(PhasePrebuild)))

	assert.False(t, cfg.RemovePlugin(PhasePrebuild, "koji"))
	assert.False(t, cfg.RemovePlugin(PhaseExit, "koji"))
}

func TestSetArgMissingPlugin(t *testing.T) {
	cfg := NewConfig()
	err := cfg.SetArg(PhasePostbuild, "pulp_push", "username", String("me"))
	assert.True(t, errors.Is(err, ErrPluginNotConfigured))

	_, err = cfg.PluginArgs(PhasePostbuild, "pulp_push")
	assert.True(t, errors.Is(err, ErrPluginNotConfigured))
}

func TestSetArgDoesNotAliasArgs(t *testing.T) {
	cfg := NewConfig()
	args := MapOf("a", String("1"))
	cfg.Append(PhasePrebuild, PluginSpec{Name: "p", Args: args})

	require.NoError(t, cfg.SetArg(PhasePrebuild, "p", "b", Int(2)))

	assert.Equal(t, []string{"a"}, args.Keys())
	got, err := cfg.PluginArgs(PhasePrebuild, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Keys())
}

func TestMergeArg(t *testing.T) {
	cfg, _, err := Parse([]byte(`
prebuild_plugins:
  - name: add_labels_in_dockerfile
    args:
      labels:
        Vendor: Old
        nested: {a: 1, b: 2}
`))
	require.NoError(t, err)

	patch := MapOf(
		"Vendor", String("Acme"),
		"Architecture", String("x86_64"),
		"nested", MapValue(MapOf("b", Int(3))),
	)
	require.NoError(t, cfg.MergeArg(PhasePrebuild, "add_labels_in_dockerfile", "labels", patch))

	args, err := cfg.PluginArgs(PhasePrebuild, "add_labels_in_dockerfile")
	require.NoError(t, err)
	labels, _ := args.Get("labels")

	assert.Equal(t, []string{"Vendor", "nested", "Architecture"}, labels.Map().Keys())
	vendor, _ := labels.Map().Get("Vendor")
	assert.Equal(t, "Acme", vendor.Text())

	nested, _ := labels.Map().Get("nested")
	a, _ := nested.Map().Get("a")
	b, _ := nested.Map().Get("b")
	assert.Equal(t, "1", a.Text())
	assert.Equal(t, "3", b.Text())
}

func TestMergeArgReplacesNonMapping(t *testing.T) {
	cfg := NewConfig()
	cfg.Append(PhaseExit, PluginSpec{Name: "p", Args: MapOf("labels", String("oops"))})

	require.NoError(t, cfg.MergeArg(PhaseExit, "p", "labels", MapOf("k", String("v"))))
	args, _ := cfg.PluginArgs(PhaseExit, "p")
	labels, _ := args.Get("labels")
	assert.Equal(t, KindMap, labels.Kind())
}

func TestScanSecretsFlagsLiteralTokens(t *testing.T) {
	token := "ghp_" + "R2x9Lm4Qv7Tn1Ks8Pw3Yz6Hb5Jc0Df2GaEu1"
	cfg := NewConfig()
	cfg.Append(PhasePostbuild, PluginSpec{Name: "push", Args: MapOf("github_token", String(token))})
	cfg.Append(PhasePostbuild, PluginSpec{Name: "push2", Args: MapOf("github_token", String("{{GITHUB_TOKEN}}"))})

	warnings := ScanSecrets(cfg)
	require.NotEmpty(t, warnings)
	for _, w := range warnings {
		assert.True(t, strings.HasPrefix(w, "postbuild_plugins[0].args"), w)
	}
}

func TestMapOrderAndClone(t *testing.T) {
	m := NewMap()
	m.Set("z", Int(1))
	m.Set("a", Int(2))
	m.Set("z", Int(3))
	assert.Equal(t, []string{"z", "a"}, m.Keys())

	c := m.Clone()
	c.Set("b", Null())
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Equal(c))

	assert.True(t, m.Delete("z"))
	assert.False(t, m.Delete("z"))
	assert.Equal(t, []string{"a"}, m.Keys())

	var nilMap *Map
	assert.Equal(t, 0, nilMap.Len())
	_, ok := nilMap.Get("x")
	assert.False(t, ok)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"b": []any{"x", 1, true, nil},
		"a": 2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v.Map().Keys())
	assert.Equal(t, `{"a":2.5,"b":["x",1,true,null]}`, v.Text())

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}
