package cloud

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/fly-io/clusterops/pkg/errors"
)

// EC2API is the subset of the EC2 client used by AWSInventory.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// AutoScalingAPI is the subset of the autoscaling client used by AWSInventory.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

// AWSInventory implements Inventory on EC2 and EC2 Auto Scaling.
type AWSInventory struct {
	ec2 EC2API
	asg AutoScalingAPI
}

// NewAWSInventory loads the default AWS configuration for region and builds
// the EC2 and autoscaling clients.
func NewAWSInventory(ctx context.Context, region string) (*AWSInventory, error) {
	slog.Info("aws_inventory_init", "region", region)

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewAWSInventoryFromClients(ec2.NewFromConfig(cfg), autoscaling.NewFromConfig(cfg)), nil
}

// NewAWSInventoryFromClients wires already constructed clients.
func NewAWSInventoryFromClients(ec2Client EC2API, asgClient AutoScalingAPI) *AWSInventory {
	return &AWSInventory{ec2: ec2Client, asg: asgClient}
}

func (a *AWSInventory) FindAvailableVolume(ctx context.Context, deploymentTag, zone string) (string, bool) {
	slog.Debug("volume_search_start", "deployment", deploymentTag, "zone", zone)

	filters := []ec2types.Filter{
		{Name: aws.String("status"), Values: []string{string(VolumeAvailable)}},
		{Name: aws.String("tag-key"), Values: []string{DeploymentTagKey}},
		{Name: aws.String("tag-value"), Values: []string{deploymentTag}},
	}
	if zone != "" {
		filters = append(filters, ec2types.Filter{Name: aws.String("availability-zone"), Values: []string{zone}})
	}

	out, err := a.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{Filters: filters})
	if err != nil {
		slog.Warn("volume_search_failed", "deployment", deploymentTag, "error", err)
		return "", false
	}
	if out == nil || len(out.Volumes) == 0 {
		slog.Warn("volume_not_found", "deployment", deploymentTag, "zone", zone)
		return "", false
	}

	id := aws.ToString(out.Volumes[0].VolumeId)
	if id == "" {
		slog.Warn("volume_malformed_response", "deployment", deploymentTag)
		return "", false
	}
	slog.Debug("volume_found", "deployment", deploymentTag, "volume_id", id, "candidates", len(out.Volumes))
	return id, true
}

func (a *AWSInventory) VolumeState(ctx context.Context, volumeID string) (VolumeState, bool) {
	out, err := a.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{{Name: aws.String("volume-id"), Values: []string{volumeID}}},
	})
	if err != nil {
		slog.Warn("volume_state_failed", "volume_id", volumeID, "error", err)
		return "", false
	}
	if out == nil || len(out.Volumes) == 0 {
		slog.Warn("volume_state_missing", "volume_id", volumeID)
		return "", false
	}

	state := VolumeState(out.Volumes[0].State)
	slog.Debug("volume_state", "volume_id", volumeID, "state", state)
	return state, true
}

func (a *AWSInventory) AttachVolume(ctx context.Context, volumeID, device, instanceID string) bool {
	slog.Debug("volume_attach_request", "volume_id", volumeID, "device", device, "instance_id", instanceID)

	_, err := a.ec2.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(volumeID),
		Device:     aws.String(device),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		slog.Warn("volume_attach_rejected", "volume_id", volumeID, "device", device, "error", err)
		return false
	}
	return true
}

func (a *AWSInventory) ListInstanceIDs(ctx context.Context, deployment string, count int) []string {
	var ids []string
	for i := 0; i < count; i++ {
		name := DatabaseGroupName(deployment, i)
		out, err := a.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: []string{name},
		})
		if err != nil {
			slog.Warn("asg_describe_failed", "group", name, "error", err)
			continue
		}
		for _, g := range out.AutoScalingGroups {
			for _, inst := range g.Instances {
				if id := aws.ToString(inst.InstanceId); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}

	slog.Info("instances_listed", "deployment", deployment, "groups", count, "instances", len(ids))
	return ids
}

func (a *AWSInventory) ListCoordinatorInstanceIDs(ctx context.Context, deployment string) []string {
	fragment := CoordinatorGroupName(deployment)

	var ids []string
	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(a.asg, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Warn("asg_list_failed", "deployment", deployment, "error", err)
			return ids
		}
		for _, g := range page.AutoScalingGroups {
			if !strings.Contains(aws.ToString(g.AutoScalingGroupName), fragment) {
				continue
			}
			for _, inst := range g.Instances {
				if id := aws.ToString(inst.InstanceId); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}

	slog.Info("coordinator_instances_listed", "deployment", deployment, "instances", len(ids))
	return ids
}

func (a *AWSInventory) ResolvePrivateIPs(ctx context.Context, instanceIDs []string) []string {
	nodes := a.Nodes(ctx, instanceIDs)
	ips := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.PrivateIP != "" {
			ips = append(ips, n.PrivateIP)
		}
	}
	return ips
}

func (a *AWSInventory) Nodes(ctx context.Context, instanceIDs []string) []Node {
	if len(instanceIDs) == 0 {
		return nil
	}

	out, err := a.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: instanceIDs})
	if err != nil {
		slog.Warn("instances_describe_failed", "instances", len(instanceIDs), "error", err)
		return nil
	}

	var nodes []Node
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			n := Node{
				InstanceID: aws.ToString(inst.InstanceId),
				PrivateIP:  aws.ToString(inst.PrivateIpAddress),
			}
			if inst.Placement != nil {
				n.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
			}
			nodes = append(nodes, n)
		}
	}
	return nodes
}
