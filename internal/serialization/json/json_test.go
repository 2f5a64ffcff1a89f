package json

import (
	"bytes"
	stdjson "encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/objgraph-go/internal/serialization"
	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
)

type node struct {
	Name     string            `graph:"include"`
	Parent   *node             `graph:"include"`
	Children []*node           `graph:"include"`
	Tags     map[string]int    `graph:"include"`
	Index    map[int]*node     `graph:"include"`
	Pet      any               `graph:"include"`
	Created  time.Time         `graph:"include"`
	Timeout  time.Duration     `graph:"include"`
	Blob     []byte            `graph:"include"`
	Ratio    float64           `graph:"include"`
	Price    *money            `graph:"include"`
	Labels   [2]string         `graph:"include"`
	Extra    map[string]string `graph:"exclude"`
	hidden   bool              `graph:"include"`
}

type cat struct {
	Lives int `graph:"include"`
}

type money struct {
	cents int64
}

func (m *money) SerializeCustom(ctx *serialization.Context) error {
	ctx.Target.(map[string]any)["cents"] = m.cents
	return nil
}

func (m *money) DeserializeCustom(ctx *serialization.Context) error {
	cents, err := ctx.Target.(map[string]any)["cents"].(stdjson.Number).Int64()
	if err != nil {
		return err
	}
	m.cents = cents
	return nil
}

type JSONSuite struct {
	suite.Suite

	logs       *observer.ObservedLogs
	serializer *Serializer
}

func (s *JSONSuite) SetupTest() {
	s.serializer = s.newSerializer(nil)
}

func (s *JSONSuite) TearDownTest() {
	s.serializer.Close()
}

func (s *JSONSuite) newSerializer(cfg *serialization.Configuration) *Serializer {
	core, logs := observer.New(zapcore.DebugLevel)
	s.logs = logs
	registry := serialization.NewRegistry()
	s.Require().NoError(registry.Register("cat", reflect.TypeFor[cat]()))

	opts := []serialization.Option{
		serialization.WithManager(serialization.NewManagerWithRegistry(registry)),
		serialization.WithLogger(&log.MLogger{Logger: zap.New(core)}),
	}
	if cfg != nil {
		opts = append(opts, serialization.WithConfiguration(cfg))
	}
	serializer, err := New(opts...)
	s.Require().NoError(err)
	return serializer
}

func (s *JSONSuite) roundTrip(in any, out any) []byte {
	var buf bytes.Buffer
	s.Require().NoError(s.serializer.Serialize(in, &buf))
	data := buf.Bytes()
	s.Require().NoError(s.serializer.Deserialize(out, bytes.NewReader(data)))
	return data
}

func (s *JSONSuite) TestRoundTrip() {
	created := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	in := &node{
		Name:    "root",
		Tags:    map[string]int{"a": 1, "b": 2},
		Created: created,
		Timeout: 1500 * time.Millisecond,
		Blob:    []byte{1, 2, 3},
		Ratio:   0.25,
		Price:   &money{cents: 250},
		Labels:  [2]string{"x", "y"},
		Extra:   map[string]string{"k": "v"},
		hidden:  true,
	}
	out := &node{}
	data := s.roundTrip(in, out)

	s.Contains(string(data), `"$version":"1.0.0"`)
	s.Contains(string(data), `"$id":1`)
	s.NotContains(string(data), "Extra")
	s.Equal("root", out.Name)
	s.Equal(map[string]int{"a": 1, "b": 2}, out.Tags)
	s.True(created.Equal(out.Created))
	s.Equal(1500*time.Millisecond, out.Timeout)
	s.Equal([]byte{1, 2, 3}, out.Blob)
	s.Equal(0.25, out.Ratio)
	s.Require().NotNil(out.Price)
	s.Equal(int64(250), out.Price.cents)
	s.Equal([2]string{"x", "y"}, out.Labels)
	s.Nil(out.Extra)
	s.True(out.hidden)
}

func (s *JSONSuite) TestSharedReferences() {
	a := &node{Name: "a"}
	b := &node{Name: "b", Parent: a}
	a.Children = []*node{b}
	a.Index = map[int]*node{1: a, 2: b}

	out := &node{}
	data := s.roundTrip(a, out)

	s.Equal(3, strings.Count(string(data), `"$ref"`))
	s.Require().Len(out.Children, 1)
	s.Same(out, out.Children[0].Parent)
	s.Same(out, out.Index[1])
	s.Same(out.Children[0], out.Index[2])
}

func (s *JSONSuite) TestDictionaryRootReplacesContent() {
	var buf bytes.Buffer
	s.Require().NoError(s.serializer.Serialize(&map[string]int{"y": 2}, &buf))
	s.Contains(buf.String(), `"Items":[{"Key":"y","Value":2}]`)

	target := map[string]int{"x": 1}
	s.Require().NoError(s.serializer.Deserialize(&target, &buf))
	s.Equal(map[string]int{"y": 2}, target)
}

func (s *JSONSuite) TestPolymorphicMember() {
	out := &node{}
	data := s.roundTrip(&node{Pet: &cat{Lives: 7}}, out)
	s.Contains(string(data), `"$type":"cat"`)
	pet, ok := out.Pet.(*cat)
	s.Require().True(ok, "got %T", out.Pet)
	s.Equal(7, pet.Lives)

	out = &node{}
	data = s.roundTrip(&node{Pet: cat{Lives: 9}}, out)
	s.Contains(string(data), `"$byValue":true`)
	s.Equal(cat{Lives: 9}, out.Pet, "struct values stay values")

	out = &node{}
	data = s.roundTrip(&node{Pet: uint16(8)}, out)
	s.Contains(string(data), `"Pet":{"$type":"uint16","$value":8}`)
	s.Equal(uint16(8), out.Pet)

	out = &node{}
	s.roundTrip(&node{Pet: map[string]any{"k": "v"}}, out)
	s.Equal([]member.KeyValuePair{{Key: "k", Value: "v"}}, out.Pet, "untyped dictionaries keep their pairs")
}

func (s *JSONSuite) TestNonFiniteFloats() {
	for _, ratio := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		out := &node{}
		data := s.roundTrip(&node{Name: "keep", Ratio: ratio, Pet: ratio}, out)

		s.Equal("keep", out.Name)
		if math.IsNaN(ratio) {
			s.Contains(string(data), `"Ratio":"NaN"`)
			s.True(math.IsNaN(out.Ratio))
			s.True(math.IsNaN(out.Pet.(float64)))
			continue
		}
		s.Equal(ratio, out.Ratio)
		s.Equal(ratio, out.Pet)
	}
}

func (s *JSONSuite) TestUnknownReference() {
	stream := `{"$version":"1.0.0","$id":1,"Name":"dangling","Parent":{"$ref":42}}`
	out := &node{Parent: &node{}}
	s.Require().NoError(s.serializer.Deserialize(out, strings.NewReader(stream)))

	s.Nil(out.Parent)
	s.Equal("dangling", out.Name)
	s.Equal(1, s.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func (s *JSONSuite) TestShapeMismatchIsSkipped() {
	stream := `{"$version":"1.0.0","Name":["not","a","string"],"Ratio":1.5}`
	out := &node{Name: "kept"}
	s.Require().NoError(s.serializer.Deserialize(out, strings.NewReader(stream)))

	s.Equal("kept", out.Name)
	s.Equal(1.5, out.Ratio)
	warns := s.logs.FilterLevelExact(zapcore.WarnLevel)
	s.Require().Equal(1, warns.Len())
	s.Equal("failed to deserialize member, skipping", warns.All()[0].Message)
}

func (s *JSONSuite) TestVersionAndCorruption() {
	out := &node{}
	s.Require().NoError(s.serializer.Deserialize(out, strings.NewReader(`{"$version":"3.0.0","Name":"v3"}`)))
	s.Equal("v3", out.Name)
	s.Equal(1, s.logs.FilterMessage("format version mismatch").Len())

	s.Error(s.serializer.Deserialize(out, strings.NewReader(`[1,2,3]`)))
	s.Error(s.serializer.Deserialize(out, strings.NewReader(`{"Name":`)))
}

func (s *JSONSuite) TestCompressionAndIndent() {
	s.serializer.Close()
	s.serializer = s.newSerializer(&serialization.Configuration{Compression: serialization.CompressionZstd})
	out := &node{}
	data := s.roundTrip(&node{Name: "packed"}, out)
	s.NotEqual(byte('{'), data[0])
	s.Equal("packed", out.Name)

	s.serializer.Close()
	s.serializer = s.newSerializer(&serialization.Configuration{Indent: true})
	data = s.roundTrip(&node{Name: "pretty"}, out)
	s.Contains(string(data), "\n  \"Name\": \"pretty\"")
}

func (s *JSONSuite) TestDeserializeAs() {
	var buf bytes.Buffer
	s.Require().NoError(s.serializer.Serialize(&node{Name: "typed"}, &buf))
	out, err := serialization.DeserializeAs[node](s.serializer.Engine, &buf)
	s.Require().NoError(err)
	s.Equal("typed", out.Name)
}

func TestJSON(t *testing.T) {
	suite.Run(t, new(JSONSuite))
}
