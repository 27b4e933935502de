package cloud

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fly-io/clusterops/pkg/errors"
)

// Identity describes the instance this process runs on.
type Identity struct {
	InstanceID       string
	AvailabilityZone string
	Region           string
}

// IdentityAPI is the subset of the IMDS client used by InstanceIdentity.
type IdentityAPI interface {
	GetInstanceIdentityDocument(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error)
}

// NewMetadataClient returns an instance metadata client with default options.
func NewMetadataClient() *imds.Client {
	return imds.New(imds.Options{})
}

// InstanceIdentity reads the instance identity document.
func InstanceIdentity(ctx context.Context, client IdentityAPI) (*Identity, error) {
	out, err := client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		slog.Error("instance_identity_failed", "error", err)
		return nil, errors.Wrap(err, "failed to read instance identity")
	}

	id := &Identity{
		InstanceID:       out.InstanceID,
		AvailabilityZone: out.AvailabilityZone,
		Region:           out.Region,
	}
	if id.Region == "" {
		id.Region = RegionFromZone(id.AvailabilityZone)
	}

	slog.Info("instance_identity", "instance_id", id.InstanceID, "zone", id.AvailabilityZone, "region", id.Region)
	return id, nil
}

// RegionFromZone strips the zone letter: us-east-1a -> us-east-1.
func RegionFromZone(zone string) string {
	if len(zone) < 2 {
		return zone
	}
	return zone[:len(zone)-1]
}
