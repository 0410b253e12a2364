package datamodule

import "errors"

var (
	// ErrNotPrepared is returned by Setup when the vocabulary files are missing.
	ErrNotPrepared = errors.New("datamodule: vocabulary not prepared")
	// ErrNotSetUp is returned by the dataloader accessors before Setup.
	ErrNotSetUp = errors.New("datamodule: not set up")
)
