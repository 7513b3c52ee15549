package main

import (
	"errors"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	webPort = 80
	appPort = 3001
	sshPort = 22

	anyAddress = "0.0.0.0/0"

	// Canonical's AWS account, publisher of the official Ubuntu AMIs.
	ubuntuOwnerID     = "099720109477"
	ubuntuNamePattern = "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"
)

// infrastructure collects the resources declared by buildInfrastructure so
// the stack exports and the tests can reach them.
type infrastructure struct {
	lbSecurityGroup  *ec2.SecurityGroup
	appSecurityGroup *ec2.SecurityGroup
	server           *ec2.Instance
	loadBalancer     *lb.LoadBalancer
	targetGroup      *lb.TargetGroup
	listener         *lb.Listener
}

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		infra, err := buildInfrastructure(ctx, cfg)
		if err != nil {
			return err
		}

		// Export the public endpoint and the instance ID for downstream use
		ctx.Export("loadBalancerDnsName", infra.loadBalancer.DnsName)
		ctx.Export("instanceId", infra.server.ID())

		return nil
	})
}

func buildInfrastructure(ctx *pulumi.Context, cfg Config) (*infrastructure, error) {
	// Look up the account's default VPC and its subnets
	vpc, err := ec2.LookupVpc(ctx, &ec2.LookupVpcArgs{
		Default: pulumi.BoolRef(true),
	})
	if err != nil {
		return nil, err
	}

	subnets, err := ec2.GetSubnets(ctx, &ec2.GetSubnetsArgs{
		Filters: []ec2.GetSubnetsFilter{
			{
				Name:   "vpc-id",
				Values: []string{vpc.Id},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(subnets.Ids) == 0 {
		return nil, errors.New("default VPC has no subnets")
	}

	// Create a security group for the load balancer: HTTP in from anywhere
	lbSecurityGroup, err := ec2.NewSecurityGroup(ctx, "lb-security-group", &ec2.SecurityGroupArgs{
		VpcId: pulumi.String(vpc.Id),
		Ingress: ec2.SecurityGroupIngressArray{
			&ec2.SecurityGroupIngressArgs{
				Description: pulumi.String("Allow inbound HTTP traffic from all public IP addresses"),
				FromPort:    pulumi.Int(webPort),
				ToPort:      pulumi.Int(webPort),
				Protocol:    pulumi.String("tcp"),
				CidrBlocks:  pulumi.StringArray{pulumi.String(anyAddress)},
			},
		},
		Egress: ec2.SecurityGroupEgressArray{
			&ec2.SecurityGroupEgressArgs{
				FromPort:   pulumi.Int(0),
				ToPort:     pulumi.Int(0),
				Protocol:   pulumi.String("-1"),
				CidrBlocks: pulumi.StringArray{pulumi.String(anyAddress)},
			},
		},
		Tags: pulumi.StringMap{
			"Name": pulumi.String("lb-security-group"),
		},
	})
	if err != nil {
		return nil, err
	}

	// SSH stays open to the world until an operator CIDR is decided
	if err := ctx.Log.Warn(fmt.Sprintf("SSH (port %d) is reachable from %s; restrict it before production use", sshPort, anyAddress), nil); err != nil {
		return nil, err
	}

	// Create a security group for the instance: app traffic only from the
	// load balancer group, plus SSH
	appSecurityGroup, err := ec2.NewSecurityGroup(ctx, "app-security-group", &ec2.SecurityGroupArgs{
		VpcId: pulumi.String(vpc.Id),
		Ingress: ec2.SecurityGroupIngressArray{
			&ec2.SecurityGroupIngressArgs{
				Description:    pulumi.String("Allow inbound app traffic from the load balancer only"),
				FromPort:       pulumi.Int(appPort),
				ToPort:         pulumi.Int(appPort),
				Protocol:       pulumi.String("tcp"),
				SecurityGroups: pulumi.StringArray{lbSecurityGroup.ID()},
			},
			&ec2.SecurityGroupIngressArgs{
				Description: pulumi.String("Allow inbound SSH traffic from all public IP addresses"),
				FromPort:    pulumi.Int(sshPort),
				ToPort:      pulumi.Int(sshPort),
				Protocol:    pulumi.String("tcp"),
				CidrBlocks:  pulumi.StringArray{pulumi.String(anyAddress)},
			},
		},
		Egress: ec2.SecurityGroupEgressArray{
			&ec2.SecurityGroupEgressArgs{
				FromPort:   pulumi.Int(0),
				ToPort:     pulumi.Int(0),
				Protocol:   pulumi.String("-1"),
				CidrBlocks: pulumi.StringArray{pulumi.String(anyAddress)},
			},
		},
		Tags: pulumi.StringMap{
			"Name": pulumi.String("app-security-group"),
		},
	})
	if err != nil {
		return nil, err
	}

	// Get the ID for the latest Ubuntu 22.04 AMI published by Canonical
	ami, err := ec2.LookupAmi(ctx, &ec2.LookupAmiArgs{
		MostRecent: pulumi.BoolRef(true),
		Owners:     []string{ubuntuOwnerID},
		Filters: []ec2.GetAmiFilter{
			{
				Name:   "name",
				Values: []string{ubuntuNamePattern},
			},
			{
				Name:   "virtualization-type",
				Values: []string{"hvm"},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	// Create the EC2 instance running the video-converter app
	server, err := ec2.NewInstance(ctx, "video-converter", &ec2.InstanceArgs{
		InstanceType:        pulumi.String(cfg.InstanceType),
		Ami:                 pulumi.String(ami.Id),
		KeyName:             pulumi.String(cfg.KeyPairName),
		SubnetId:            pulumi.String(subnets.Ids[0]),
		VpcSecurityGroupIds: pulumi.StringArray{appSecurityGroup.ID()},
		UserData:            pulumi.String(bootstrapScript(cfg.AppRepoURL)),
		Tags: pulumi.StringMap{
			"Name": pulumi.String("video-converter"),
		},
	})
	if err != nil {
		return nil, err
	}

	// Create an internet-facing application load balancer across all subnets
	loadBalancer, err := lb.NewLoadBalancer(ctx, "app-lb", &lb.LoadBalancerArgs{
		Internal:         pulumi.Bool(false),
		LoadBalancerType: pulumi.String("application"),
		SecurityGroups:   pulumi.StringArray{lbSecurityGroup.ID()},
		Subnets:          pulumi.ToStringArray(subnets.Ids),
	})
	if err != nil {
		return nil, err
	}

	// Create a target group health-checking the app on its root path
	targetGroup, err := lb.NewTargetGroup(ctx, "app-tg", &lb.TargetGroupArgs{
		Port:     pulumi.Int(appPort),
		Protocol: pulumi.String("HTTP"),
		VpcId:    pulumi.String(vpc.Id),
		HealthCheck: &lb.TargetGroupHealthCheckArgs{
			Path:               pulumi.String("/"),
			Matcher:            pulumi.String("200-399"),
			Interval:           pulumi.Int(30),
			Timeout:            pulumi.Int(5),
			HealthyThreshold:   pulumi.Int(2),
			UnhealthyThreshold: pulumi.Int(2),
		},
	})
	if err != nil {
		return nil, err
	}

	// Register the instance with the target group
	_, err = lb.NewTargetGroupAttachment(ctx, "app-tg-attachment", &lb.TargetGroupAttachmentArgs{
		TargetGroupArn: targetGroup.Arn,
		TargetId:       server.ID(),
		Port:           pulumi.Int(appPort),
	})
	if err != nil {
		return nil, err
	}

	// Create a listener forwarding all HTTP traffic to the target group
	listener, err := lb.NewListener(ctx, "app-listener", &lb.ListenerArgs{
		LoadBalancerArn: loadBalancer.Arn,
		Port:            pulumi.Int(webPort),
		Protocol:        pulumi.String("HTTP"),
		DefaultActions: lb.ListenerDefaultActionArray{
			&lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: targetGroup.Arn,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &infrastructure{
		lbSecurityGroup:  lbSecurityGroup,
		appSecurityGroup: appSecurityGroup,
		server:           server,
		loadBalancer:     loadBalancer,
		targetGroup:      targetGroup,
		listener:         listener,
	}, nil
}
