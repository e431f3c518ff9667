// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagLoaderBytes(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "32MiB", want: 32 << 20},
		{value: "20GiB", want: 20 << 30},
		{value: "1500", want: 1500},
		{value: "10 KB", want: 10000},
		{value: "lots", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			c := &cobra.Command{Use: "test"}
			c.Flags().String("size_flag", "", "")
			require.NoError(t, c.Flags().Set("size_flag", tc.value))

			got, err := NewFlagLoader(c).Bytes("size_flag")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFlagLoaderBytesEmpty(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	c.Flags().String("unset_size_flag", "", "")

	got, err := NewFlagLoader(c).Bytes("unset_size_flag")
	require.NoError(t, err)
	assert.Zero(t, got)
}
