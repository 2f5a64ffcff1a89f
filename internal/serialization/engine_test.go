package serialization

import (
	"bytes"
	"reflect"
	"strings"

	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/metrics"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

type EngineSuite struct {
	suite.Suite

	logs     *observer.ObservedLogs
	registry *Registry
	backend  *memBackend
	engine   *Engine
}

func (s *EngineSuite) SetupTest() {
	calls.take()
	core, logs := observer.New(zapcore.DebugLevel)
	s.logs = logs
	s.registry = NewRegistry()
	s.Require().NoError(s.registry.RegisterModifier(reflect.TypeFor[widget](), reflect.TypeFor[firstModifier]()))
	s.Require().NoError(s.registry.RegisterModifier(reflect.TypeFor[widget](), reflect.TypeFor[secondModifier]()))
	s.Require().NoError(s.registry.RegisterModifier(reflect.TypeFor[gadget](), reflect.TypeFor[ignoreSecretModifier]()))
	s.Require().NoError(s.registry.RegisterModifier(reflect.TypeFor[single](), reflect.TypeFor[firstModifier]()))
	s.Require().NoError(s.registry.RegisterModifier(reflect.TypeFor[pairs](), reflect.TypeFor[pairsModifier]()))

	s.backend = newMemBackend()
	s.engine = NewEngine(s.backend,
		WithManager(NewManagerWithRegistry(s.registry)),
		WithFormat("mem"),
		WithLogger(&log.MLogger{Logger: zap.New(core)}),
	)
}

func (s *EngineSuite) TearDownTest() {
	s.engine.Close()
}

func (s *EngineSuite) serialize(model any) string {
	var buf bytes.Buffer
	s.Require().NoError(s.engine.Serialize(model, &buf))
	return buf.String()
}

func (s *EngineSuite) TestRoundTrip() {
	key := s.serialize(&widget{Name: "w", Count: 3, Secret: "s", note: "n", Skip: "x"})
	s.Equal(map[string]any{"Name": "w", "Count": 3, "Secret": "s", "note": "n"}, s.backend.doc(key))

	out := &widget{Skip: "kept"}
	s.Require().NoError(s.engine.Deserialize(out, strings.NewReader(key)))
	s.Equal(widget{Name: "w", Count: 3, Secret: "s", note: "n", Skip: "kept"}, *out)

	typed, err := s.engine.DeserializeType(reflect.TypeFor[*widget](), strings.NewReader(key))
	s.Require().NoError(err)
	s.Equal("w", typed.(*widget).Name)

	generic, err := DeserializeAs[widget](s.engine, strings.NewReader(key))
	s.Require().NoError(err)
	s.Equal(3, generic.Count)
}

func (s *EngineSuite) TestModifierOrder() {
	key := s.serialize(&widget{Name: "w"})
	s.Equal([]string{"second:OnSerializing", "first:OnSerializing"}, calls.withSuffix(":OnSerializing"))

	calls.take()
	s.Require().NoError(s.engine.Deserialize(&widget{}, strings.NewReader(key)))
	s.Equal([]string{"first:OnDeserializing", "second:OnDeserializing"}, calls.withSuffix(":OnDeserializing"))
}

func (s *EngineSuite) TestInheritedModifiers() {
	chain := s.engine.Manager().GetSerializerModifiers(reflect.TypeFor[gadget]())
	s.Require().Len(chain, 3)
	s.IsType(&ignoreSecretModifier{}, chain[0])
	s.IsType(&secondModifier{}, chain[1])
	s.IsType(&firstModifier{}, chain[2])

	widgetChain := s.engine.Manager().GetSerializerModifiers(reflect.TypeFor[widget]())
	s.Same(widgetChain[0], chain[1], "modifier instances are shared between model types")

	key := s.serialize(&gadget{widget: widget{Name: "g", Secret: "hidden"}, Extra: "e"})
	doc := s.backend.doc(key)
	s.NotContains(doc, "Secret")
	s.Equal("g", doc["Name"])
	s.Equal("e", doc["Extra"])
}

func (s *EngineSuite) TestLifecycleOrder() {
	for kind := EventSerializing; kind <= EventDeserialized; kind++ {
		s.engine.Subscribe(kind, func(args *EventArgs) {
			if args.Member != nil {
				calls.add("event:%s:%s", args.Kind, args.Member.Name)
				return
			}
			calls.add("event:%s", args.Kind)
		})
	}

	key := s.serialize(&single{Value: 1})
	s.Equal([]string{
		"event:Serializing",
		"first:OnSerializing",
		"hook:BeforeSerialization",
		"event:SerializingMember:Value",
		"hook:BeforeSerializeMember:Value",
		"first:SerializeMember:Value",
		"backend:write:Value",
		"hook:AfterSerializeMember:Value",
		"event:SerializedMember:Value",
		"hook:AfterSerialization",
		"first:OnSerialized",
		"event:Serialized",
	}, calls.take())

	out := &single{}
	s.Require().NoError(s.engine.Deserialize(out, strings.NewReader(key)))
	s.Equal(1, out.Value)
	s.Equal([]string{
		"event:Deserializing",
		"first:OnDeserializing",
		"hook:BeforeDeserialization",
		"event:DeserializingMember:Value",
		"hook:BeforeDeserializeMember:Value",
		"backend:read:Value",
		"first:DeserializeMember:Value",
		"hook:AfterDeserializeMember:Value",
		"event:DeserializedMember:Value",
		"hook:AfterDeserialization",
		"first:OnDeserialized",
		"event:Deserialized",
	}, calls.take())
}

func (s *EngineSuite) TestUnsubscribe() {
	fired := 0
	unsubscribe := s.engine.Subscribe(EventSerialized, func(*EventArgs) { fired++ })
	s.serialize(&single{})
	unsubscribe()
	s.serialize(&single{})
	s.Equal(1, fired)
}

func (s *EngineSuite) TestSerializeMemberFailureIsSkipped() {
	failures := testutil.ToFloat64(metrics.MemberFailures.WithLabelValues(ModeSerialization.String()))
	s.backend.failOn = "Count"
	s.backend.panicOn = "Secret"

	key := s.serialize(&widget{Name: "w", Count: 1, Secret: "s"})
	doc := s.backend.doc(key)
	s.Equal("w", doc["Name"])
	s.NotContains(doc, "Count")
	s.NotContains(doc, "Secret")

	warns := s.logs.FilterMessage("failed to serialize member, skipping")
	s.Equal(2, warns.Len())
	s.Equal(failures+2, testutil.ToFloat64(metrics.MemberFailures.WithLabelValues(ModeSerialization.String())))
}

func (s *EngineSuite) TestDeserializeMismatchIsSkipped() {
	key := s.serialize(&widget{Name: "w", Count: 1})
	s.backend.doc(key)["Count"] = "not a number"

	out := &widget{Count: 42}
	s.Require().NoError(s.engine.Deserialize(out, strings.NewReader(key)))
	s.Equal("w", out.Name)
	s.Equal(42, out.Count)
	s.Equal(1, s.logs.FilterMessage("failed to deserialize member, skipping").Len())
}

func (s *EngineSuite) TestUnsupportedCollectionIsFatal() {
	key := s.serialize(&widget{Name: "w"})
	s.backend.doc(key)["Count"] = []any{1, 2}

	err := s.engine.Deserialize(&widget{}, strings.NewReader(key))
	s.ErrorIs(err, merr.ErrOperationNotSupported)
}

func (s *EngineSuite) TestIgnoredMembers() {
	key := s.serialize(&filtered{Kept: "k", Dropped: "d"})
	s.Equal(map[string]any{"Kept": "k"}, s.backend.doc(key))

	s.backend.doc(key)["Dropped"] = "from stream"
	out := &filtered{}
	s.Require().NoError(s.engine.Deserialize(out, strings.NewReader(key)))
	s.Equal(filtered{Kept: "k"}, *out)
}

func (s *EngineSuite) TestCollectionRoots() {
	var groups []member.Group
	s.engine.Subscribe(EventSerializingMember, func(args *EventArgs) {
		groups = append(groups, args.Member.Group)
	})

	key := s.serialize(&[]int{1, 2})
	s.Equal([]int{1, 2}, s.backend.doc(key)[CollectionMemberName])
	items := []int{9, 9, 9}
	s.Require().NoError(s.engine.Deserialize(&items, strings.NewReader(key)))
	s.Equal([]int{1, 2}, items)

	key = s.serialize(&[3]string{"a", "b", "c"})
	var arr [3]string
	s.Require().NoError(s.engine.Deserialize(&arr, strings.NewReader(key)))
	s.Equal([3]string{"a", "b", "c"}, arr)

	key = s.serialize(&map[string]int{"y": 2})
	dict := map[string]int{"x": 1}
	s.Require().NoError(s.engine.Deserialize(&dict, strings.NewReader(key)))
	s.Equal(map[string]int{"y": 2}, dict)

	s.serialize(&pairs{"k": 1})
	s.Equal([]member.Group{
		member.GroupCollection,
		member.GroupCollection,
		member.GroupDictionary,
		member.GroupCollection,
	}, groups)
}

func (s *EngineSuite) TestCustomSerializable() {
	fired := 0
	s.engine.Subscribe(EventSerializing, func(*EventArgs) { fired++ })

	key := s.serialize(&opaque{payload: "quiet"})
	s.Equal(map[string]any{"payload": "QUIET"}, s.backend.doc(key))
	s.Zero(fired)

	out := &opaque{}
	s.Require().NoError(s.engine.Deserialize(out, strings.NewReader(key)))
	s.Equal("quiet", out.payload)
}

func (s *EngineSuite) TestDepthGuard() {
	cfg := &Configuration{MaxDepth: 1}
	root := NewContext(&single{Value: 1}, reflect.TypeFor[single](), ModeSerialization, map[string]any{}, cfg)
	nested := root.Child(&single{Value: 2}, reflect.TypeFor[single](), map[string]any{})
	tooDeep := nested.Child(&single{Value: 3}, reflect.TypeFor[single](), map[string]any{})

	s.Require().NoError(s.engine.SerializeContext(nested))
	s.Equal(map[string]any{"Value": 2}, nested.Target)
	s.Same(root, tooDeep.Root())

	s.Require().NoError(s.engine.SerializeContext(tooDeep))
	s.Empty(tooDeep.Target)
	s.Equal(1, s.logs.FilterMessage("max depth exceeded, skipping nested model").Len())
}

func (s *EngineSuite) TestInvalidArguments() {
	var buf bytes.Buffer
	s.ErrorIs(s.engine.Serialize(nil, &buf), merr.ErrParameterMissing)
	s.ErrorIs(s.engine.Serialize((*widget)(nil), &buf), merr.ErrParameterMissing)
	s.ErrorIs(s.engine.Serialize(widget{}, &buf), merr.ErrParameterInvalid)
	s.ErrorIs(s.engine.Serialize(&widget{}, nil), merr.ErrParameterMissing)
	s.ErrorIs(s.engine.Deserialize(&widget{}, nil), merr.ErrParameterMissing)
	_, err := s.engine.DeserializeType(nil, &buf)
	s.ErrorIs(err, merr.ErrParameterMissing)
	s.ErrorIs(s.engine.Deserialize(&widget{}, strings.NewReader("missing")), merr.ErrStreamCorrupted)
}

func (s *EngineSuite) TestCallMetrics() {
	success := metrics.SerializationTotal.WithLabelValues("mem", metrics.SerializeLabel, metrics.SuccessLabel)
	failed := metrics.SerializationTotal.WithLabelValues("mem", metrics.DeserializeLabel, metrics.FailLabel)
	before, beforeFailed := testutil.ToFloat64(success), testutil.ToFloat64(failed)

	s.serialize(&single{})
	s.Error(s.engine.Deserialize(&single{}, strings.NewReader("missing")))

	s.Equal(before+1, testutil.ToFloat64(success))
	s.Equal(beforeFailed+1, testutil.ToFloat64(failed))
}

func (s *EngineSuite) TestWarmup() {
	types := []reflect.Type{
		reflect.TypeFor[widget](),
		reflect.TypeFor[gadget](),
		reflect.TypeFor[single](),
		reflect.TypeFor[filtered](),
		reflect.TypeFor[opaque](),
	}
	for _, t := range types {
		s.Require().NoError(s.registry.Register(t.Name(), t))
	}

	warmed := testutil.ToFloat64(metrics.WarmupTypes)
	s.Require().NoError(s.engine.Warmup(nil, 2))
	s.ElementsMatch(types, s.backend.warmed)
	s.Equal(warmed+5, testutil.ToFloat64(metrics.WarmupTypes))

	misses := testutil.ToFloat64(metrics.ClassifierCacheMisses.WithLabelValues(cacheFields))
	for _, t := range types {
		s.engine.Manager().GetFields(t)
	}
	s.Equal(misses, testutil.ToFloat64(metrics.ClassifierCacheMisses.WithLabelValues(cacheFields)))

	s.backend.warmed = nil
	s.Require().NoError(s.engine.Warmup(types[:2], 0))
	s.Equal(types[:2], s.backend.warmed)
	s.Equal(2, s.logs.FilterMessage("serialization warmup finished").Len())
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
