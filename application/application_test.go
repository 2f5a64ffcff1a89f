package application

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/objgraph-go/internal/serialization"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

type appNode struct {
	Name string   `graph:"include"`
	Next *appNode `graph:"include"`
}

func init() {
	serialization.RegisterType[appNode]("application.node")
}

type ApplicationSuite struct {
	suite.Suite

	dir string
	app *Application
}

func (s *ApplicationSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.app = New()
}

func (s *ApplicationSuite) TearDownTest() {
	s.app.Close()
}

func (s *ApplicationSuite) writeConfig(content string) string {
	path := filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *ApplicationSuite) TestLoadsConfigFile() {
	path := s.writeConfig(`
log:
  level: debug
  stdout: false
logging:
  xml:
    level: warn
serializer:
  maxDepth: 8
  indent: true
  compression: zstd
  warmup:
    onStartup: true
    batchSize: 1
`)
	s.Require().NoError(s.app.run([]string{"--config", path}))

	conf := s.app.Config()
	s.Equal("debug", conf.Log.Level)
	s.Equal(8, conf.Serializer.MaxDepth)
	s.True(conf.Serializer.Indent)
	s.Equal(serialization.CompressionZstd, conf.Serializer.Compression)
	s.Equal(serialization.DefaultFormatVersion, conf.Serializer.FormatVersion)
	s.True(conf.Serializer.Warmup.OnStartup)

	s.Same(s.app.Logger("xml"), s.app.Logger("xml"))
	s.NotSame(s.app.Logger("missing"), s.app.Logger("missing"), "unknown names fall back to a fresh global logger")
}

func (s *ApplicationSuite) TestEnvOverridesFile() {
	path := s.writeConfig("serializer:\n  maxDepth: 8\n")
	s.T().Setenv("OBJGRAPH_SERIALIZER_MAXDEPTH", "5")
	s.T().Setenv(configPathEnv, path)

	s.Require().NoError(s.app.run(nil))
	s.Equal(5, s.app.Config().Serializer.MaxDepth)
}

func (s *ApplicationSuite) TestDefaultsWithoutFile() {
	s.T().Chdir(s.dir)
	s.Require().NoError(s.app.run(nil))
	s.Equal(*serialization.DefaultConfiguration(), s.app.Config().Serializer)
}

func (s *ApplicationSuite) TestInvalidConfig() {
	s.Error(s.app.run([]string{"--config"}))

	s.Error(New().run([]string{"--config=" + filepath.Join(s.dir, "absent.yaml")}))

	path := s.writeConfig("serializer:\n  compression: lz4\n")
	err := New().run([]string{"--config", path})
	s.ErrorIs(err, merr.ErrParameterInvalid)
}

func (s *ApplicationSuite) TestResolve() {
	s.Require().NoError(s.app.run([]string{"--config", s.writeConfig("log:\n  stdout: false\n")}))

	for _, format := range []string{"xml", "JSON"} {
		serializer, err := s.app.Resolve(format)
		s.Require().NoError(err)

		in := &appNode{Name: "head"}
		in.Next = &appNode{Name: "tail", Next: in}

		var buf bytes.Buffer
		s.Require().NoError(serializer.Serialize(in, &buf))
		out, err := serializer.DeserializeType(reflect.TypeFor[*appNode](), &buf)
		s.Require().NoError(err)

		node := out.(*appNode)
		s.Equal("head", node.Name)
		s.Equal("tail", node.Next.Name)
		s.Same(node, node.Next.Next, format)
	}

	_, err := s.app.Resolve("yaml")
	s.ErrorIs(err, merr.ErrParameterInvalid)
}

func TestApplication(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}
