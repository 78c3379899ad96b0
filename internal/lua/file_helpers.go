package lua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ErrInvalidName is returned for routine names that are not plain .lua file names.
var ErrInvalidName = errors.New("invalid routine name")

// sanitizeFilename checks for directory traversal and a .lua extension.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("%w: %q must end with .lua", ErrInvalidName, name)
	}
	cleanName := filepath.Base(name)
	if cleanName != name || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleanName, nil
}

// RoutinePath returns the path of a routine inside the routines directory,
// creating the directory if needed.
func (e *Engine) RoutinePath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.routinesDir, 0o755); err != nil {
		return "", fmt.Errorf("create routines directory: %w", err)
	}
	return filepath.Join(e.routinesDir, cleanName), nil
}

// GetRoutineCode reads a routine's source.
func (e *Engine) GetRoutineCode(name string) (string, error) {
	path, err := e.RoutinePath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SaveRoutineCode writes a routine's source. The code must compile.
func (e *Engine) SaveRoutineCode(name, code string) error {
	path, err := e.RoutinePath(name)
	if err != nil {
		return err
	}
	if err := checkSyntax(name, code); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0o644)
}

// DeleteRoutine removes a routine file.
func (e *Engine) DeleteRoutine(name string) error {
	path, err := e.RoutinePath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// GetRoutineList returns the sorted .lua file names in the routines directory.
func (e *Engine) GetRoutineList() ([]string, error) {
	routines := []string{}
	files, err := os.ReadDir(e.routinesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return routines, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			routines = append(routines, file.Name())
		}
	}
	sort.Strings(routines)
	return routines, nil
}

// checkSyntax compiles code without running it.
func checkSyntax(name, code string) error {
	L := lua.NewState()
	defer L.Close()
	if _, err := L.LoadString(code); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
