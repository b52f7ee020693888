package targets

import (
	"fmt"
)

// PresetAWS names the EC2 regional ping endpoints.
const PresetAWS = "aws"

var awsRegions = []struct{ id, name string }{
	{"ap-northeast-1", "Asia Pacific (Tokyo)"},
	{"ap-northeast-2", "Asia Pacific (Seoul)"},
	{"ap-northeast-3", "Asia Pacific (Osaka)"},
	{"ap-south-1", "Asia Pacific (Mumbai)"},
	{"ap-southeast-1", "Asia Pacific (Singapore)"},
	{"ap-southeast-2", "Asia Pacific (Sydney)"},
	{"ca-central-1", "Canada (Central)"},
	{"eu-central-1", "Europe (Frankfurt)"},
	{"eu-north-1", "Europe (Stockholm)"},
	{"eu-west-1", "Europe (Ireland)"},
	{"eu-west-2", "Europe (London)"},
	{"eu-west-3", "Europe (Paris)"},
	{"sa-east-1", "South America (São Paulo)"},
	{"us-east-1", "US East (N. Virginia)"},
	{"us-east-2", "US East (Ohio)"},
	{"us-west-1", "US West (N. California)"},
	{"us-west-2", "US West (Oregon)"},
}

// AWSRegions returns a target per AWS region pointing at its EC2 ping endpoint.
func AWSRegions() []Target {
	out := make([]Target, 0, len(awsRegions))
	for _, r := range awsRegions {
		out = append(out, Target{ID: r.id, Name: r.name, URL: EC2Endpoint(r.id)})
	}
	return out
}

// EC2Endpoint returns the EC2 ping endpoint URL for a given region ID
func EC2Endpoint(regionID string) string {
	return fmt.Sprintf("https://ec2.%s.amazonaws.com/ping", regionID)
}
