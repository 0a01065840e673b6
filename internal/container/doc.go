// SPDX-License-Identifier: MPL-2.0

// Package container drives Docker or Podman through their CLIs to host
// container-isolated environments.
//
// An environment container is started once, detached, with the package root
// bind-mounted; every installer step and command then runs in it through
// `exec`, and the container is removed when the environment finishes.
// DockerEngine and PodmanEngine embed BaseCLIEngine, which builds the
// argument lists and runs the engine binary.
//
// Engine selection uses NewEngine(EngineType), which falls back to the
// other engine when the preferred one is unavailable.
package container
