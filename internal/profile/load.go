package profile

import (
	_ "embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSrc string

//go:embed builtin.cue
var builtinSrc string

// LoadMode controls how errors are handled while loading a directory.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Builtin returns the profiles compiled into the binary.
func Builtin() (*Set, error) {
	set, errs := compileSource(cuecontext.New(), "builtin.cue", []byte(builtinSrc), LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return set, nil
}

// Load returns the builtin profiles overlaid with every .cue file under dir.
// An empty dir returns the builtins alone.
func Load(dir string) (*Set, error) {
	set, errs := LoadDir(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return set, nil
}

// LoadDir is Load with a selectable error mode. With LoadModeCollectAll the
// returned set holds every profile that did load.
func LoadDir(dir string, mode LoadMode) (*Set, []error) {
	set, err := Builtin()
	if err != nil {
		return nil, []error{err}
	}
	if dir == "" {
		return set, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("profiles directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScan, Message: fmt.Sprintf("scanning %s: %v", dir, err)}}
	}

	ctx := cuecontext.New()
	var errs []error
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeScan, Message: fmt.Sprintf("reading %s: %v", path, err)})
			if mode == LoadModeFailFast {
				return set, errs
			}
			continue
		}

		fileSet, fileErrs := compileSource(ctx, path, data, mode)
		errs = append(errs, fileErrs...)
		if len(fileErrs) > 0 && mode == LoadModeFailFast {
			return set, errs
		}
		if fileSet != nil {
			set.merge(fileSet)
		}
	}
	return set, errs
}

// FindCUEFiles walks the directory and returns all .cue paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// compileSource unifies one file with the schema and decodes its profiles.
func compileSource(ctx *cue.Context, filename string, src []byte, mode LoadMode) (*Set, []error) {
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	value := schema.Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	profilesVal := value.LookupPath(cue.ParsePath("profile"))
	if !profilesVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s: no profiles defined", filename)}}
	}

	iter, err := profilesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	set := NewSet()
	var errs []error
	for iter.Next() {
		name := iter.Label()

		var doc profileDoc
		if err := iter.Value().Decode(&doc); err != nil {
			errs = append(errs, formatCUEError(err))
			if mode == LoadModeFailFast {
				return set, errs
			}
			continue
		}

		p, err := compileProfile(name, doc)
		if err != nil {
			if le, ok := err.(*LoadError); ok && !le.Pos.IsValid() {
				le.Pos = iter.Value().Pos()
			}
			errs = append(errs, err)
			if mode == LoadModeFailFast {
				return set, errs
			}
			continue
		}
		set.profiles[name] = p
	}
	return set, errs
}
