// Package pipeline implements the release pipeline engine: Starlark for the
// manifest language and mvdan.cc/sh for the shell runtime.
// A manifest declares the project metadata and optional extra tasks; the
// engine derives the standard targets (all, clean, test, cover, release)
// from the metadata and executes them with halt-on-first-failure semantics.
package pipeline
