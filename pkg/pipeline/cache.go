package pipeline

import (
	"encoding/gob"
	"os"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

// WriteCache stores the parsed manifest result. Only manifest tasks end up in
// the cache, the built-in targets are synthesized from the project metadata on
// every run (their native steps aren't serializable anyway).
func WriteCache(file string, options map[string]string, proj *Project, list TaskList) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(options)
	if err != nil {
		return err
	}

	err = encoder.Encode(proj)
	if err != nil {
		return err
	}

	return encoder.Encode(list)
}

func ReadCache(file string) (map[string]string, *Project, TaskList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var options map[string]string
	err = decoder.Decode(&options)
	if err != nil {
		return nil, nil, nil, err
	}

	var proj Project
	err = decoder.Decode(&proj)
	if err != nil {
		return options, nil, nil, err
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return options, &proj, nil, err
	}

	return options, &proj, result, nil
}
