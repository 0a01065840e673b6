// SPDX-License-Identifier: MPL-2.0

package runtime

import "github.com/envrun/envrun/internal/container"

// BuildRegistry registers the native and virtual runtimes and, when engine
// is non-nil, the container runtime.
func BuildRegistry(engine container.Engine) *Registry {
	reg := NewRegistry()
	reg.Register(RuntimeTypeNative, NewNativeRuntime())
	reg.Register(RuntimeTypeVirtual, NewVirtualRuntime())
	if engine != nil {
		reg.Register(RuntimeTypeContainer, NewContainerRuntime(engine))
	}
	return reg
}
