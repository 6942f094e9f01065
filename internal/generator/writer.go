package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanshika/iou/backend/internal/service"
)

const (
	usersFile = "users.json"
	iousFile  = "ious.json"
)

// WriteDataset serializes the dataset into users.json and ious.json under dir.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	usersPath, iousPath := DatasetPaths(dir)
	if err := writeJSON(usersPath, dataset.Users); err != nil {
		return err
	}
	return writeJSON(iousPath, dataset.IOUs)
}

// DatasetPaths returns the users and IOUs files WriteDataset produces in dir.
func DatasetPaths(dir string) (users, ious string) {
	return filepath.Join(dir, usersFile), filepath.Join(dir, iousFile)
}

// ReadDataset loads a dataset written by WriteDataset.
func ReadDataset(dir string) (Dataset, error) {
	usersPath, iousPath := DatasetPaths(dir)
	users, err := LoadUsers(usersPath)
	if err != nil {
		return Dataset{}, err
	}
	ious, err := LoadIOUs(iousPath)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Users: users, IOUs: ious}, nil
}

// LoadUsers reads a users.json file.
func LoadUsers(path string) ([]service.SeedUser, error) {
	var users []service.SeedUser
	if err := readJSON(path, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// LoadIOUs reads an ious.json file.
func LoadIOUs(path string) ([]service.SeedIOU, error) {
	var ious []service.SeedIOU
	if err := readJSON(path, &ious); err != nil {
		return nil, err
	}
	return ious, nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, dst any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
