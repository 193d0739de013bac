package vm

import (
	"os"
	"path/filepath"
	"plugin"

	"github.com/Kannupriyasingh/Ark/internal/errors"
)

// PluginExports is the symbol every Ark plugin must export under the name
// "Exports": guest-visible function names mapped to their implementations.
type PluginExports map[string]func(args []Value) (Value, error)

// loadPlugin resolves a plugin path against the directory of the loaded
// container and the configured lib paths, opens it, and merges its exports
// into the root scope by symbol id. Loading the same path twice is a no-op.
func (vm *VM) loadPlugin(path string) error {
	candidates := []string{path}
	if vm.filename != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(vm.filename), path))
	}
	for _, dir := range vm.libPaths {
		candidates = append(candidates, filepath.Join(dir, path))
	}

	resolved := ""
	for _, candidate := range candidates {
		if vm.loadedPlugins[candidate] {
			return nil
		}
		if _, err := os.Stat(candidate); err == nil {
			resolved = candidate
			break
		}
	}
	if resolved == "" {
		return errors.NewRuntimeError("could not find module '" + path + "'")
	}

	lib, err := plugin.Open(resolved)
	if err != nil {
		return errors.NewRuntimeError("an error occurred while loading module '" + path + "': " + err.Error())
	}
	sym, err := lib.Lookup("Exports")
	if err != nil {
		return errors.NewRuntimeError("module '" + path + "' has no Exports mapping: " + err.Error())
	}
	exports, ok := sym.(*PluginExports)
	if !ok {
		return errors.NewRuntimeError("module '" + path + "' has an incompatible Exports mapping")
	}

	for name, fn := range *exports {
		if id, found := vm.symbolID(name); found {
			vm.scopes[0].Set(id, &NativeFunction{Name: name, Function: fn})
		}
	}
	vm.loadedPlugins[resolved] = true
	return nil
}
