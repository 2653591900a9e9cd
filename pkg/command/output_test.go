package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputKey(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		region  string
		want    string
		wantErr bool
	}{
		{
			name:   "dashed regional path style",
			url:    "https://s3-eu-west-1.amazonaws.com/patch-logs/p/cmd-1/i-w1/stdout",
			region: "eu-west-1",
			want:   "p/cmd-1/i-w1/stdout",
		},
		{
			name:   "dotted regional path style",
			url:    "https://s3.eu-west-1.amazonaws.com/patch-logs/p/stdout",
			region: "eu-west-1",
			want:   "p/stdout",
		},
		{
			name: "global path style without region",
			url:  "https://s3.amazonaws.com/patch-logs/p/stdout",
			want: "p/stdout",
		},
		{
			name:   "virtual hosted",
			url:    "https://patch-logs.s3.eu-west-1.amazonaws.com/p/stdout",
			region: "eu-west-1",
			want:   "p/stdout",
		},
		{
			name:   "other region in URL still parsed",
			url:    "https://s3-us-west-2.amazonaws.com/patch-logs/p/stdout",
			region: "eu-west-1",
			want:   "p/stdout",
		},
		{
			name:   "escaped key on regional prefix",
			url:    "https://s3-eu-west-1.amazonaws.com/patch-logs/p/aws%3ArunShellScript/stdout",
			region: "eu-west-1",
			want:   "p/aws:runShellScript/stdout",
		},
		{
			name: "escaped key on parsed URL",
			url:  "https://s3.amazonaws.com/patch-logs/p/aws%3ArunShellScript/stdout",
			want: "p/aws:runShellScript/stdout",
		},
		{
			name:   "escaped key virtual hosted",
			url:    "https://patch-logs.s3.eu-west-1.amazonaws.com/p/aws%3ArunShellScript/stdout",
			region: "eu-west-1",
			want:   "p/aws:runShellScript/stdout",
		},
		{
			name:    "bad escape on regional prefix",
			url:     "https://s3.eu-west-1.amazonaws.com/patch-logs/p/%zz/stdout",
			region:  "eu-west-1",
			wantErr: true,
		},
		{name: "empty", url: "", wantErr: true},
		{name: "other bucket", url: "https://s3.amazonaws.com/elsewhere/p/stdout", wantErr: true},
		{name: "bucket only", url: "https://s3.amazonaws.com/patch-logs/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputKey(tt.url, "patch-logs", tt.region)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
