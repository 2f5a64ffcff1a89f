package model

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

type animal struct {
	Base
}

type dog struct {
	animal
	Breed string
}

var (
	animalName = RegisterProperty[animal, string]("Name", WithDefaultValue("unnamed"))
	animalLegs = RegisterProperty[animal, int]("Legs")
	dogLegs    = RegisterProperty[dog, int]("Legs", WithDefaultValue(4))
	dogOwner   = RegisterProperty[*dog, func()]("Owner")
	dogExtra   = RegisterDynamicProperty[dog]("Extra")
)

type ModelSuite struct {
	suite.Suite
}

func (s *ModelSuite) TestIsModelType() {
	s.True(IsModelType(reflect.TypeFor[animal]()))
	s.True(IsModelType(reflect.TypeFor[*dog]()))
	s.False(IsModelType(reflect.TypeFor[int]()))
	s.False(IsModelType(reflect.TypeFor[struct{ Name string }]()))
	s.False(IsModelType(nil))
}

func (s *ModelSuite) TestPropertiesInherited() {
	props := Properties(reflect.TypeFor[dog]())
	names := make([]string, 0, len(props))
	for _, pd := range props {
		names = append(names, pd.Name)
	}
	s.Equal([]string{"IsDirty", "IsReadOnly", "Name", "Legs", "Owner", "Extra"}, names)

	legs, ok := Lookup(reflect.TypeFor[*dog](), "Legs")
	s.Require().True(ok)
	s.Same(dogLegs.Data(), legs, "outer type overrides inherited property")

	isDirty, ok := Lookup(reflect.TypeFor[dog](), "IsDirty")
	s.Require().True(ok)
	s.True(isDirty.IsModelBaseProperty)

	s.False(dogOwner.Data().IsSerializable)
	s.True(dogExtra.Dynamic)
	s.True(animalLegs.Data().IsSerializable)
	s.Nil(Properties(reflect.TypeFor[int]()))
}

func (s *ModelSuite) TestDuplicateRegistrationPanics() {
	s.Panics(func() {
		RegisterProperty[animal, string]("Name")
	})
}

func (s *ModelSuite) TestGetSetValue() {
	d := &dog{}
	s.Equal("unnamed", animalName.Get(d))
	s.Equal(4, dogLegs.Get(d))

	var events []PropertyChangedEvent
	d.OnPropertyChanged(func(e PropertyChangedEvent) {
		events = append(events, e)
	})

	s.NoError(animalName.Set(d, "rex"))
	s.Equal("rex", animalName.Get(d))
	s.True(d.IsDirty())
	s.Require().Len(events, 1)
	s.Equal("Name", events[0].Name)
	s.Nil(events[0].OldValue)
	s.Equal("rex", events[0].NewValue)
}

func (s *ModelSuite) TestFastAccessBypassesNotification() {
	d := &dog{}
	notified := false
	d.OnPropertyChanged(func(PropertyChangedEvent) { notified = true })

	d.SetValueFast("Legs", 3)
	v, ok := d.GetValueFast("Legs")
	s.True(ok)
	s.Equal(3, v)
	s.Equal(3, dogLegs.Get(d))
	s.False(notified)
	s.False(d.IsDirty())

	_, ok = d.GetValueFast("Missing")
	s.False(ok)
	s.Nil(d.GetValue("Missing"))
}

func (s *ModelSuite) TestReadOnly() {
	d := &dog{}
	d.SetReadOnly(true)
	s.True(d.IsReadOnly())
	err := animalName.Set(d, "rex")
	s.ErrorIs(err, merr.ErrOperationNotSupported)
	s.Equal("unnamed", animalName.Get(d))

	d.SetReadOnly(false)
	s.NoError(animalName.Set(d, "rex"))
	d.ClearDirty()
	s.False(d.IsDirty())
}

func TestModel(t *testing.T) {
	suite.Run(t, new(ModelSuite))
}
