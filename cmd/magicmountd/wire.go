// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/rootshim/magicmount/lib/providers"
)

// initializeApp is the injector function `wire` would expand into a
// wire_gen.go. No such generated file is committed (matching the teacher,
// which also never commits one); buildApplication in main.go is the
// hand-written equivalent, built against the same application struct this
// would wire.Build into, and kept in lock-step with the provider list below.
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideSentinels,
		providers.ProvideFS,
		providers.ProvideMounter,
		providers.ProvideAttrCloner,
		providers.ProvideLoopDevice,
		providers.ProvideDefaultImageSize,
		providers.ProvideEnvironment,
		providers.ProvideDriver,
		providers.ProvideRecorder,
		wire.Struct(new(application), "*"),
	))
}
